package main

import (
	"blogpilot/cmd/handlers"
	"blogpilot/internal/logger"
)

func main() {
	logger.Init()
	handlers.Execute()
}
