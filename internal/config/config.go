package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	HTTPAddress     string
	BackendBaseURL  string
	HTTPTimeout     time.Duration
	DefaultLanguage string
	ICEServersJSON  string
}

// Load reads environment variables and returns Config with sane defaults.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file loaded")
	}

	addr := os.Getenv("HTTP_ADDRESS")
	if addr == "" {
		addr = ":8080"
	}

	backend := os.Getenv("BACKEND_BASE_URL")
	if backend == "" {
		backend = "http://localhost:5000"
		log.Println("Warning: BACKEND_BASE_URL not set - using http://localhost:5000")
	}

	timeout := 30 * time.Second
	if v := os.Getenv("HTTP_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			timeout = time.Duration(n) * time.Second
		} else {
			log.Printf("Warning: invalid HTTP_TIMEOUT_SECONDS=%q - using 30s", v)
		}
	}

	lang := os.Getenv("DEFAULT_LANGUAGE")
	if lang == "" {
		lang = "EN"
	}

	ice := os.Getenv("ICE_SERVERS_JSON")
	if ice == "" {
		ice = `[{"urls":["stun:stun.l.google.com:19302"]}]`
	}

	log.Printf("config: HTTP_ADDRESS=%s BACKEND_BASE_URL=%s timeout=%s", addr, backend, timeout)
	return Config{
		HTTPAddress:     addr,
		BackendBaseURL:  backend,
		HTTPTimeout:     timeout,
		DefaultLanguage: lang,
		ICEServersJSON:  ice,
	}
}
