package middleware

import (
	"bufio"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/cors"
)

// LoadCORS restricts cross-origin callers to the origins listed in path, one
// per line, or allows any origin without credentials when the file is absent.
func LoadCORS(path string) func(http.Handler) http.Handler {
	origins := loadCORSOrigins(path)

	if len(origins) > 0 {
		log.Printf("[CORS] Loaded %d origins from %s", len(origins), path)
		return cors.Handler(cors.Options{
			AllowedOrigins:   origins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"*"},
			ExposedHeaders:   []string{"Content-Disposition", "Content-Length"},
			AllowCredentials: true,
			MaxAge:           86400,
		})
	}

	log.Printf("[CORS] WARNING: No %s found, allowing all origins (credentials disabled)", path)
	return cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"Content-Disposition", "Content-Length"},
		AllowCredentials: false,
		MaxAge:           86400,
	})
}

func loadCORSOrigins(path string) []string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var origins []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" && !strings.HasPrefix(line, "#") {
			origins = append(origins, line)
		}
	}
	return origins
}
