package commands

import (
	"fmt"
	"os"
	"strings"

	"caedrepo/internal/components/serviceutil"
	"caedrepo/internal/environment"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func init() {
	credentialsCmd.AddCommand(credentialsShowCmd)
	credentialsCmd.AddCommand(credentialsImportCmd)
	rootCmd.AddCommand(credentialsCmd)
}

var credentialsCmd = &cobra.Command{
	Use:   "credentials",
	Short: "Manages the credential registry of the selected environment.",
}

func registryPath() (environment.Name, string) {
	cfg, err := loadConfig()
	if err != nil {
		serviceutil.Fatal("failed to read config", err)
	}
	name, err := environment.SelectName(cfg.Repository, resolveOptions())
	if err != nil {
		serviceutil.Fatal("failed to select environment", err)
	}
	path := cfg.Repository.Section(name).Registry
	if path == "" {
		serviceutil.Fatal(
			"no registry configured",
			fmt.Errorf("set repository.%s.registry in %s", name, defaultConfigFile),
		)
	}
	return name, path
}

func mask(s string) string {
	if len(s) <= 2 {
		return strings.Repeat("*", len(s))
	}
	return s[:1] + strings.Repeat("*", len(s)-2) + s[len(s)-1:]
}

var credentialsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Shows the registry, passwords are masked.",
	RunE: func(cmd *cobra.Command, args []string) error {
		name, path := registryPath()
		creds, err := environment.ReadRegistry(path)
		if err != nil {
			return err
		}

		fmt.Printf("environment %s, registry %s\n", name, path)
		t := newTable()
		t.AppendHeader(table.Row{"ID_USER", "USER", "SENHA"})
		for _, c := range creds {
			t.AppendRow(table.Row{c.UserId, c.Username, mask(c.Password)})
		}
		t.Render()
		return nil
	},
}

var credentialsImportCmd = &cobra.Command{
	Use:   "import <csv>",
	Short: "Replaces the registry with the contents of a csv with the same columns.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, path := registryPath()
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		err = environment.ReplaceRegistry(path, f)
		if err != nil {
			return err
		}
		fmt.Printf("registry of %s updated from %s\n", name, args[0])
		return nil
	},
}
