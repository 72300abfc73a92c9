package main

import (
	"fmt"
	"io"

	"github.com/Bidon15/datamarket"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var addressesFormat string

var addressesCmd = &cobra.Command{
	Use:   "addresses",
	Short: "Show the addresses recorded by the last deployment",
	Long: `Read the address file written by deploy and print it.

Examples:
  datamarket addresses
  datamarket addresses --format yaml
  datamarket addresses --output deployments/local.json --json`,
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return bindFlags(cmd, map[string]string{"output": "output"})
	},
	RunE: runAddresses,
}

func init() {
	addressesCmd.Flags().String("output", datamarket.DefaultOutputFile, "address file to read")
	addressesCmd.Flags().StringVar(&addressesFormat, "format", "table", "output format: table, json or yaml")
}

func runAddresses(cmd *cobra.Command, args []string) error {
	path := viper.GetString("output")
	reg, err := datamarket.LoadRegistry(path)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	format := addressesFormat
	if jsonOut {
		format = "json"
	}

	switch format {
	case "json":
		return printJSON(out, reg)
	case "yaml":
		return printRegistryYAML(out, reg)
	case "table":
		t := newTable(out)
		printTableHeader(t, "CONTRACT", "ADDRESS")
		for _, e := range reg.Entries() {
			_, _ = fmt.Fprintf(t, "%s\t%s\n", e.Name, e.Address.Hex())
		}
		return t.Flush()
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}

// printRegistryYAML writes the registry as a YAML mapping in deployment
// order.
func printRegistryYAML(w io.Writer, reg *datamarket.Registry) error {
	doc := &yaml.Node{Kind: yaml.MappingNode}
	for _, e := range reg.Entries() {
		doc.Content = append(doc.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: e.Name},
			&yaml.Node{Kind: yaml.ScalarNode, Value: e.Address.Hex(), Style: yaml.DoubleQuotedStyle},
		)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return err
	}
	return enc.Close()
}
