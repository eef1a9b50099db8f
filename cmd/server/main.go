package main

import (
	"go.uber.org/fx"

	"github.com/teamclash/backend/internal/app"
)

func main() {
	fx.New(
		app.Module,
		fx.Invoke(app.RunServer),
	).Run()
}
