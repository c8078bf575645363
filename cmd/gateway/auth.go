package main

import (
	"net/http"

	"gateway-ratelimit/middleware/ratelimit"

	"golang.org/x/crypto/bcrypt"
)

// dummyHash é comparado quando o usuário não existe, para que a resposta leve
// o mesmo tempo nos dois casos (custo igual ao dos hashes gerados com htpasswd -B).
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("dummy-password"), bcrypt.DefaultCost)

// basicAuth autentica via HTTP Basic e registra o principal no contexto,
// de onde o resolver "principal" do rate limit lê a chave.
func basicAuth(users map[string][]byte, realm string, next http.Handler) http.Handler {
	challenge := `Basic realm="` + realm + `"`
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if ok {
			hash, known := users[user]
			if !known {
				hash = dummyHash
			}
			if bcrypt.CompareHashAndPassword(hash, []byte(pass)) == nil && known {
				next.ServeHTTP(w, r.WithContext(ratelimit.WithPrincipal(r.Context(), user)))
				return
			}
		}
		w.Header().Set("WWW-Authenticate", challenge)
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
	})
}
