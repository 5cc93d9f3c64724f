package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/probelab/sonicstage/pkg/stage"
	"github.com/probelab/sonicstage/pkg/transport"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

type SetupCommand struct {
	Config string `long:"config" short:"c" description:"Config file path" default:"sonicstage.json"`
}

func (c *SetupCommand) Execute(args []string) error {
	fmt.Println(headerStyle.Render("SonicStage Setup"))
	fmt.Println(dimStyle.Render("━━━━━━━━━━━━━━━━"))
	fmt.Println()

	cfg := stage.DefaultConfig()
	if existing, err := stage.LoadConfigFrom(c.Config); err == nil {
		cfg = existing
		fmt.Printf("Updating existing configuration %s\n\n", c.Config)
	}

	port := choosePort()

	fmt.Printf("\nProbing firmware on %s...\n", port)
	firmware, err := transport.ProbeFirmware(port, cfg.Baud)
	if err != nil {
		fmt.Printf("No firmware response (%v).\n", err)
		if !confirm("Use this port anyway?") {
			os.Exit(1)
		}
	} else {
		fmt.Println(successStyle.Render("Firmware: " + firmware))
	}

	cfg.Port = port
	if err := cfg.SaveTo(c.Config); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving config: %v\n", err)
		os.Exit(1)
	}

	fmt.Println()
	fmt.Println(dimStyle.Render("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━"))
	fmt.Println(successStyle.Render("Setup complete!"))
	fmt.Printf("Configuration saved to %s\n", c.Config)
	fmt.Println()
	fmt.Println("Home the stage with:    " + headerStyle.Render("stagectl init"))
	fmt.Println("Start the server with:  " + headerStyle.Render("stagectl serve"))

	return nil
}

func choosePort() string {
	fmt.Println("Scanning for stage controllers...")

	candidates, err := transport.ListCandidatePorts()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error listing ports: %v\n", err)
		os.Exit(1)
	}
	if len(candidates) == 0 {
		fmt.Println("No candidate ports found.")
		fmt.Println("Make sure the stage controller is connected and powered on.")
		os.Exit(1)
	}

	if len(candidates) == 1 {
		fmt.Printf("  Found controller on %s\n", candidates[0])
		return candidates[0]
	}

	var options []huh.Option[string]
	for _, port := range candidates {
		options = append(options, huh.NewOption(port, port))
	}

	var port string
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Which port is the stage controller on?").
				Options(options...).
				Value(&port),
		),
	)
	if err := form.Run(); err != nil {
		fmt.Println()
		os.Exit(0)
	}
	return port
}

func confirm(title string) bool {
	var ok bool
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(title).
				Affirmative("Yes").
				Negative("No").
				Value(&ok),
		),
	)
	if err := form.Run(); err != nil {
		fmt.Println()
		os.Exit(0)
	}
	return ok
}
