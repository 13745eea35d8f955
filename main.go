package main

import (
	"log"

	"github.com/joho/godotenv"

	"tally/config"
	"tally/server"
)

func main() {
	// .env — только для локальной разработки, в проде переменные окружения
	_ = godotenv.Load()

	cfg := config.MustLoad()
	app := &server.App{}
	app.Initialize(cfg)
	if err := app.Run(); err != nil {
		log.Fatal(err)
	}
}
