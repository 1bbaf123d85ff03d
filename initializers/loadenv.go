package initializers

import (
	"log"

	"github.com/joho/godotenv"
)

// LoadEnv loads a .env file when present. A missing file is not an error:
// production deployments set the environment directly.
func LoadEnv() {
	log.Println("Loading env file")
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file loaded, using process environment")
		return
	}
	log.Println("Env loaded successfully")
}
