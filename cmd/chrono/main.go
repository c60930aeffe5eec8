//go:build linux && (amd64 || arm64)

// Command chrono is the operator's tool for the tracee protocol: it encodes
// command scripts for the command channel, decodes event streams, and packs
// and inspects snapshot images.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/willibrandon/ChronoTracee/pkg/version"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "chrono",
		Short:        "Tools for driving and inspecting a ChronoTracee agent",
		SilenceUsage: true,
	}
	root.AddCommand(
		newEncodeCmd(),
		newEventsCmd(),
		newPackCmd(),
		newInspectCmd(),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	var asYAML bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info := version.Get()
			if !asYAML {
				fmt.Fprintln(cmd.OutOrStdout(), info)
				return nil
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(info); err != nil {
				return err
			}
			return enc.Close()
		},
	}
	cmd.Flags().BoolVar(&asYAML, "yaml", false, "print as YAML")
	return cmd
}

// openInput returns the named file, or the command's stdin for "" and "-".
func openInput(cmd *cobra.Command, name string) (io.ReadCloser, error) {
	if name == "" || name == "-" {
		return io.NopCloser(cmd.InOrStdin()), nil
	}
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// binaryOutput returns where binary output should go. Writing binary data to
// a terminal is refused unless force is set.
func binaryOutput(cmd *cobra.Command, name string, force bool) (io.WriteCloser, error) {
	if name != "" && name != "-" {
		return os.Create(name)
	}
	out := cmd.OutOrStdout()
	if f, ok := out.(*os.File); ok && !force {
		if isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()) {
			return nil, fmt.Errorf("refusing to write binary data to a terminal (use --output or --force)")
		}
	}
	return nopWriteCloser{out}, nil
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }
