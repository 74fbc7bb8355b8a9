package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/datallboy/nzbfetch/internal/decoding"
	"github.com/datallboy/nzbfetch/internal/storage"
)

func newDecodeCommand() *cobra.Command {
	var outPath string
	var strict bool

	cmd := &cobra.Command{
		Use:         "decode <article-file>",
		Short:       "Decode a raw yEnc article dump",
		Args:        cobra.ExactArgs(1),
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			part, err := decoding.NewCodec(decoding.WithStrict(strict)).Decode(raw)
			if err != nil {
				return fmt.Errorf("decode %s: %w", args[0], err)
			}

			if outPath == "" {
				name := filepath.Base(part.Name)
				if name == "" || name == "." || name == string(filepath.Separator) {
					name = filepath.Base(args[0]) + ".bin"
				}
				outPath = name
			}

			if err := storage.NewAtomicWriter(nil).WriteFile(cmd.Context(), outPath, part.Data); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Decoded %s with the %s decoder: %s written to %s\n",
				part.Name, part.Strategy, humanize.Bytes(uint64(len(part.Data))), outPath)
			if part.Total > 1 {
				fmt.Fprintf(out, "Part %d of %d, bytes %d-%d of %s\n",
					part.Number, part.Total, part.Begin, part.End, humanize.Bytes(uint64(part.FileSize)))
			}
			for _, w := range part.Warnings {
				fmt.Fprintf(out, "Warning: %s\n", w)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outPath, "out", "o", "", "Output file (defaults to the name in the yEnc header)")
	cmd.Flags().BoolVar(&strict, "strict", false, "Fail on a decoded size mismatch")
	return cmd
}
