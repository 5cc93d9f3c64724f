package main

import (
	"os"

	"github.com/jessevdk/go-flags"
)

type Options struct {
	Setup SetupCommand `command:"setup" description:"Detect the stage controller and write a config file"`
	Serve ServeCommand `command:"serve" description:"Run the HTTP motion server"`
	Jog   JogCommand   `command:"jog" alias:"teleop" description:"Drive the stage from the keyboard"`
	Init  InitCommand  `command:"init" description:"Home the stage and park at the init pose"`
}

var opts Options
var parser = flags.NewParser(&opts, flags.Default)

func main() {
	parser.LongDescription = "SonicStage - motion control CLI for the scanning stage"

	_, err := parser.Parse()
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				os.Exit(0)
			}
		}
		os.Exit(1)
	}
}
