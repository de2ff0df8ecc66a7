package main

import (
	"os"

	"github.com/Thianeswaran-G/DarkPatent/internal/app"
)

func main() {
	os.Exit(app.Run(os.Args[1:]))
}
