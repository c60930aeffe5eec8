//go:build linux && (amd64 || arm64)

package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/willibrandon/ChronoTracee/pkg/snapshot"
	"github.com/willibrandon/ChronoTracee/pkg/x11"
)

type imageFlags struct {
	compression string
	hmacKey     string
	encryptKey  string
}

func (f *imageFlags) register(cmd *cobra.Command, withCompression bool) {
	if withCompression {
		cmd.Flags().StringVar(&f.compression, "compression", "zstd", "payload compression: none or zstd")
	}
	cmd.Flags().StringVar(&f.hmacKey, "hmac-key", "", "sign or verify the image with this HMAC-SHA256 key")
	cmd.Flags().StringVar(&f.encryptKey, "encrypt-key", "", "hex-encoded AES key (16, 24 or 32 bytes)")
}

func (f *imageFlags) options() (snapshot.ImageOptions, error) {
	var opts []func(*snapshot.ImageOptions)
	if f.hmacKey != "" {
		opts = append(opts, snapshot.WithIntegrityKey([]byte(f.hmacKey)))
	}
	if f.encryptKey != "" {
		key, err := hex.DecodeString(f.encryptKey)
		if err != nil {
			return snapshot.ImageOptions{}, fmt.Errorf("--encrypt-key: %w", err)
		}
		opts = append(opts, snapshot.WithEncryption(key))
	}
	o := snapshot.NewImageOptions(opts...)

	switch f.compression {
	case "", "zstd":
	case "none":
		o.Compression = snapshot.NoCompression
	default:
		return o, fmt.Errorf("unknown compression %q", f.compression)
	}
	return o, nil
}

func newPackCmd() *cobra.Command {
	var flags imageFlags
	var output string
	var force bool

	cmd := &cobra.Command{
		Use:   "pack [state.bin]",
		Short: "Wrap a raw snapshot region dump into a snapshot image",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := flags.options()
			if err != nil {
				return err
			}
			in, err := openInput(cmd, argOrEmpty(args))
			if err != nil {
				return err
			}
			defer in.Close()

			raw, err := io.ReadAll(in)
			if err != nil {
				return fmt.Errorf("read state: %w", err)
			}
			// A dump of the whole mapping carries page padding after State.
			if len(raw) > snapshot.Size {
				raw = raw[:snapshot.Size]
			}
			if _, err := snapshot.Decode(raw); err != nil {
				return err
			}

			out, err := binaryOutput(cmd, output, force)
			if err != nil {
				return err
			}
			err = snapshot.EncodeImage(out, raw, opts)
			return errors.Join(err, out.Close())
		},
	}
	flags.register(cmd, true)
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to `file` instead of stdout")
	cmd.Flags().BoolVar(&force, "force", false, "write binary output even to a terminal")
	return cmd
}

type clockSummary struct {
	Realtime  string `yaml:"realtime"`
	Monotonic string `yaml:"monotonic"`
	Timestamp int64  `yaml:"timestamp"`
}

type windowSummary struct {
	Display bool   `yaml:"display_open"`
	Window  bool   `yaml:"window_open"`
	Context bool   `yaml:"context_open"`
	Screen  string `yaml:"screen"`
	Vendor  string `yaml:"vendor,omitempty"`
}

type imageSummary struct {
	Version uint64        `yaml:"version"`
	Clocks  clockSummary  `yaml:"clocks"`
	GLEnd   uint64        `yaml:"gl_pending_bytes"`
	Window  windowSummary `yaml:"x11"`
}

func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

func summarize(st *snapshot.State) imageSummary {
	rt := time.Unix(st.Clocks.Realtime.Sec, st.Clocks.Realtime.Nsec).UTC()
	mono := time.Duration(st.Clocks.Monotonic.Sec)*time.Second + time.Duration(st.Clocks.Monotonic.Nsec)
	return imageSummary{
		Version: st.Version,
		Clocks: clockSummary{
			Realtime:  rt.Format(time.RFC3339Nano),
			Monotonic: mono.String(),
			Timestamp: st.Clocks.Timestamp,
		},
		GLEnd: st.GL.End,
		Window: windowSummary{
			Display: st.X11.Has(x11.DisplayOpened),
			Window:  st.X11.Has(x11.WindowOpened),
			Context: st.X11.Has(x11.ContextOpened),
			Screen:  fmt.Sprintf("%dx%d", st.X11.Screen.Width, st.X11.Screen.Height),
			Vendor:  cString(st.X11.Vendor[:]),
		},
	}
}

func newInspectCmd() *cobra.Command {
	var flags imageFlags

	cmd := &cobra.Command{
		Use:   "inspect [image]",
		Short: "Print the contents of a snapshot image as YAML",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := flags.options()
			if err != nil {
				return err
			}
			in, err := openInput(cmd, argOrEmpty(args))
			if err != nil {
				return err
			}
			defer in.Close()

			raw, err := snapshot.DecodeImage(in, opts)
			if err != nil {
				return err
			}
			st, err := snapshot.Decode(raw)
			if err != nil {
				return err
			}

			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(summarize(st)); err != nil {
				return err
			}
			return enc.Close()
		},
	}
	flags.register(cmd, false)
	return cmd
}
