package ratelimit

import (
	"fmt"
	"net"
	"net/http"
	"strings"

	"gateway-ratelimit/middleware/ratelimit/domain"
)

// KeyFunc resolve a chave de rate limit de uma requisição.
//
// Deve ser determinística: o mesmo cliente lógico gera a mesma chave em qualquer
// instância do gateway. Retornar "" significa "sem limite" para essa requisição.
type KeyFunc func(r *http.Request) string

// Estratégias aceitas em ParseKeyStrategy (campo keyResolver do arquivo de rotas).
const (
	StrategyIP            = "ip"
	StrategyHeader        = "header"
	StrategyPrincipal     = "principal"
	StrategyPrincipalOrIP = "principal-or-ip"
	StrategyRoute         = "route"
	StrategyNone          = "none"
)

func DefaultKeyFunc(keyHeader string, trustXFF bool) KeyFunc {
	return func(r *http.Request) string {
		if keyHeader != "" {
			if v := strings.TrimSpace(r.Header.Get(keyHeader)); v != "" {
				return v
			}
		}
		return clientIP(r, trustXFF)
	}
}

func clientIP(r *http.Request, trustXFF bool) string {
	if trustXFF {
		// pega o primeiro IP do X-Forwarded-For (cliente original)
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			ip, _, _ := strings.Cut(xff, ",")
			if ip = strings.TrimSpace(ip); ip != "" {
				return ip
			}
		}
	}

	// fallback: RemoteAddr
	addr := strings.TrimSpace(r.RemoteAddr)
	host, _, err := net.SplitHostPort(addr)
	if err == nil && host != "" {
		return host
	}
	// sem endereço não há como chavear: requisição segue sem limite
	return addr
}

// PrincipalKeyFunc usa a identidade autenticada (WithPrincipal).
// Requisições anônimas ficam sem limite.
func PrincipalKeyFunc() KeyFunc {
	return func(r *http.Request) string {
		p, _ := PrincipalFrom(r.Context())
		return p
	}
}

// PrincipalOrIPKeyFunc usa o principal quando houver e cai para o IP do cliente.
// Os prefixos evitam colisão entre um usuário chamado "10.0.0.1" e o IP 10.0.0.1.
func PrincipalOrIPKeyFunc(trustXFF bool) KeyFunc {
	return func(r *http.Request) string {
		if p, ok := PrincipalFrom(r.Context()); ok {
			return "user:" + p
		}
		if ip := clientIP(r, trustXFF); ip != "" {
			return "ip:" + ip
		}
		return ""
	}
}

// RouteKeyFunc agrega todas as requisições em um único bucket. Com o escopo
// por rota do Middleware, vira um bucket por rota.
func RouteKeyFunc() KeyFunc {
	return func(*http.Request) string { return "all" }
}

// EmptyKeyFunc nunca resolve chave: a rota fica efetivamente sem limite.
func EmptyKeyFunc() KeyFunc {
	return func(*http.Request) string { return "" }
}

// ScopedKeyFunc prefixa a chave com a rota, para que rotas diferentes não
// compartilhem bucket do mesmo cliente. Chave vazia continua vazia.
func ScopedKeyFunc(route string, inner KeyFunc) KeyFunc {
	return func(r *http.Request) string {
		k := inner(r)
		if k == "" || route == "" {
			return k
		}
		return route + ":" + k
	}
}

// ParseKeyStrategy converte o nome configurado em KeyFunc.
// Nome desconhecido é erro de configuração (falha no bind, não na requisição).
func ParseKeyStrategy(name, keyHeader string, trustXFF bool) (KeyFunc, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", StrategyIP:
		return DefaultKeyFunc("", trustXFF), nil
	case StrategyHeader:
		if strings.TrimSpace(keyHeader) == "" {
			return nil, fmt.Errorf("%w: key resolver %q requires a key header", domain.ErrConfiguration, name)
		}
		return DefaultKeyFunc(keyHeader, trustXFF), nil
	case StrategyPrincipal:
		return PrincipalKeyFunc(), nil
	case StrategyPrincipalOrIP:
		return PrincipalOrIPKeyFunc(trustXFF), nil
	case StrategyRoute:
		return RouteKeyFunc(), nil
	case StrategyNone:
		return EmptyKeyFunc(), nil
	}
	return nil, fmt.Errorf("%w: unknown key resolver %q", domain.ErrConfiguration, name)
}
