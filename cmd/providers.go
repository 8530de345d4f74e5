package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/zjrosen/datasources/internal/datasource"
)

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List compiled-in data-source providers",
	Long: `List every data-source provider (reader) compiled into this binary.

Each entry shows the definition type it handles and whether it supports
connection tests through POST /datasources/test.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return writeProviders(cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(providersCmd)
}

type providerInfo struct {
	Type     string `json:"type"`
	Testable bool   `json:"testable"`
}

func listProviders() ([]providerInfo, error) {
	var out []providerInfo
	for _, typ := range datasource.RegisteredReaders() {
		r, err := datasource.NewReader(typ)
		if err != nil {
			return nil, fmt.Errorf("instantiating %s: %w", typ, err)
		}
		_, testable := r.(datasource.Tester)
		out = append(out, providerInfo{Type: typ, Testable: testable})
	}
	return out, nil
}

func writeProviders(w io.Writer) error {
	list, err := listProviders()
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(list); err != nil {
		return fmt.Errorf("encoding providers: %w", err)
	}
	return nil
}
