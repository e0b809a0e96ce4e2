package main

import (
	"log"

	"github.com/yesuf435/imlast/cmd/internal/app"
)

func main() {
	if err := app.Run(); err != nil {
		log.Fatal(err)
	}
}
