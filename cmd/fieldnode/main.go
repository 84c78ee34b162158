package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/kardianos/service"
	"github.com/stone-age-io/fieldnode/internal/config"
	"github.com/stone-age-io/fieldnode/internal/node"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

// program adapts the node to the OS service manager
type program struct {
	configPath string
	node       *node.Node
}

// Start must not block
func (p *program) Start(s service.Service) error {
	n, err := node.New(p.configPath, version)
	if err != nil {
		return err
	}
	p.node = n
	return n.Start()
}

func (p *program) Stop(s service.Service) error {
	if p.node == nil {
		return nil
	}
	return p.node.Shutdown()
}

func main() {
	configPath := flag.String("config", config.GetDefaultConfigPath(), "Path to configuration file")
	action := flag.String("service", "", "Control the system service: "+strings.Join(service.ControlAction[:], ", "))
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	svcConfig := &service.Config{
		Name:        "fieldnode",
		DisplayName: "Field Node",
		Description: "Camera sensor node reporting detections over the mesh",
		Arguments:   []string{"-config", *configPath},
	}

	prg := &program{configPath: *configPath}
	s, err := service.New(prg, svcConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create service: %v\n", err)
		os.Exit(1)
	}

	if *action != "" {
		if err := service.Control(s, *action); err != nil {
			fmt.Fprintf(os.Stderr, "service %s failed: %v\n", *action, err)
			os.Exit(1)
		}
		fmt.Printf("service %s: ok\n", *action)
		return
	}

	if err := s.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "fieldnode stopped: %v\n", err)
		os.Exit(1)
	}
}
