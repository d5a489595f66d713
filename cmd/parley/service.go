package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"

	"github.com/kardianos/service"
	"github.com/spf13/cobra"

	"github.com/flemzord/parley/internal/config"
)

// program adapts serve to the service manager's start/stop callbacks.
type program struct {
	cfg    *config.Config
	cancel context.CancelFunc
	done   chan error
}

var _ service.Interface = (*program)(nil)

// Start must not block; serve runs in the background.
func (p *program) Start(service.Service) error {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan error, 1)
	go func() { p.done <- serve(ctx, p.cfg) }()
	return nil
}

// Stop cancels serve and waits for the shutdown sequence.
func (p *program) Stop(service.Service) error {
	if p.cancel == nil {
		return nil
	}
	p.cancel()
	return <-p.done
}

func serviceConfig(configPath string) *service.Config {
	return &service.Config{
		Name:        "parley",
		DisplayName: "Parley assistant",
		Description: "Chat assistant with per-user conversation memory.",
		Arguments:   []string{"service", "run", "--config", configPath},
	}
}

// serviceActions are forwarded to service.Control.
var serviceActions = []string{"install", "uninstall", "start", "stop", "restart"}

func serviceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service <install|uninstall|start|stop|restart|status|run>",
		Short: "Manage parley as a system service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			action := args[0]

			path, err := configPath(cmd)
			if err != nil {
				return err
			}
			if path, err = filepath.Abs(path); err != nil {
				return err
			}

			prg := &program{}
			svc, err := service.New(prg, serviceConfig(path))
			if err != nil {
				return fmt.Errorf("service: %w", err)
			}

			switch {
			case action == "run":
				cfg, _, err := loadConfig(cmd)
				if err != nil {
					return err
				}
				prg.cfg = cfg
				return svc.Run()
			case action == "status":
				status, err := svc.Status()
				if err != nil && !errors.Is(err, service.ErrNotInstalled) {
					return fmt.Errorf("service: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), statusString(status, err))
				return nil
			case slices.Contains(serviceActions, action):
				if action == "install" {
					// Fail now rather than at boot.
					if _, _, err := loadConfig(cmd); err != nil {
						return err
					}
				}
				if err := service.Control(svc, action); err != nil {
					return fmt.Errorf("service %s: %w", action, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "service %s: done\n", action)
				return nil
			default:
				return fmt.Errorf("unknown action %q", action)
			}
		},
	}
	return cmd
}

func statusString(s service.Status, err error) string {
	if errors.Is(err, service.ErrNotInstalled) {
		return "not installed"
	}
	switch s {
	case service.StatusRunning:
		return "running"
	case service.StatusStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
