// Command app runs the setup wizard as a desktop application.
package main

import (
	"fmt"
	"os"

	"setup-wizard/internal/bootstrap"
)

func main() {
	app, err := bootstrap.New()
	if err != nil {
		fmt.Fprintf(os.Stderr, "bootstrap app: %v\n", err)
		os.Exit(1)
	}
	runErr := app.Run()
	if runErr != nil {
		app.Logger.Sugar().Errorf("run app: %v", runErr)
	}
	if err := app.Close(); err != nil {
		app.Logger.Sugar().Warnf("close app: %v", err)
	}
	_ = app.Logger.Sync()
	if runErr != nil {
		os.Exit(1)
	}
}
