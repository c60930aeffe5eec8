//go:build linux && (amd64 || arm64)

package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/willibrandon/ChronoTracee/pkg/protocol"
)

func newEncodeCmd() *cobra.Command {
	var output string
	var force bool

	cmd := &cobra.Command{
		Use:   "encode [script.yaml]",
		Short: "Encode a YAML command script into the command channel format",
		Long: `Encode reads a list of steps such as

  - op: settime
    time: 1700000000
  - op: open
    path: /tmp/input
    fd: 3
    flags: 0
    seek: 0
  - op: continue

and writes the binary command stream a tracee reads on its command descriptor.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := openInput(cmd, argOrEmpty(args))
			if err != nil {
				return err
			}
			defer in.Close()

			data, err := io.ReadAll(in)
			if err != nil {
				return fmt.Errorf("read script: %w", err)
			}
			steps, err := protocol.ParseScript(data)
			if err != nil {
				return err
			}

			// Encode everything before touching the output so a bad step
			// never leaves a partial stream behind.
			var buf bytes.Buffer
			if err := protocol.EncodeScript(protocol.NewEncoder(&buf), steps); err != nil {
				return err
			}

			out, err := binaryOutput(cmd, output, force)
			if err != nil {
				return err
			}
			_, err = buf.WriteTo(out)
			return errors.Join(err, out.Close())
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to `file` instead of stdout")
	cmd.Flags().BoolVar(&force, "force", false, "write binary output even to a terminal")
	return cmd
}

func newEventsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "events [stream]",
		Short: "Decode a tracee event stream, one event per line",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := openInput(cmd, argOrEmpty(args))
			if err != nil {
				return err
			}
			defer in.Close()

			dec := protocol.NewEventDecoder(in)
			for {
				ev, err := dec.Next()
				if errors.Is(err, io.EOF) {
					return nil
				}
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), ev)
			}
		},
	}
}

func argOrEmpty(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}
