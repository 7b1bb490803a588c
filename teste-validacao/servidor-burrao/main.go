package main

import (
	"encoding/json"
	"net/http"

	log "github.com/sirupsen/logrus"
)

// Upstream burro para validar o gateway à mão: responde qualquer rota da API
// e loga quem chegou (depois do rate limit).
func main() {
	http.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		log.WithFields(log.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
			"xff":    r.Header.Get("X-Forwarded-For"),
		}).Info("request reached upstream")

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "path": r.URL.Path})
	})
	log.Info("upstream rodando em http://localhost:8082")
	if err := http.ListenAndServe(":8082", nil); err != nil {
		log.Fatalf("erro ao subir o servidor: %v", err)
	}
}
