package main

import (
	"context"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/seborama/scenevcr/cassette"
)

func newDecryptCommand(rootOpts *rootOptions) *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "decrypt <cassette>",
		Short: "Decrypt an encrypted cassette to the standard output or to a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if rootOpts.keyFile == "" {
				return errKeyFileMissing
			}

			k7, store, err := rootOpts.loadCassette(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if out != "" {
				return k7.CopyTo(cmd.Context(), out, cassette.WithStore(store))
			}

			// the document is printed uncompressed.
			name := strings.TrimSuffix(k7.Name(), ".gz")

			return k7.CopyTo(cmd.Context(), name, cassette.WithStore(&writerStore{w: cmd.OutOrStdout()}))
		},
	}

	cmd.Flags().StringVar(&out, "out", "", "decrypted cassette to write, in the cassette store")

	return cmd
}

func newConvertCommand(rootOpts *rootOptions) *cobra.Command {
	var (
		encryptKeyFile    string
		compressThreshold int
	)

	cmd := &cobra.Command{
		Use:   "convert <cassette> <new-cassette>",
		Short: "Copy a cassette to another format, compression or encryption",
		Long: `Copy a cassette to a new cassette.

The format of the new cassette follows its name: JSON by default, YAML for '.yaml' or
'.yml', gzipped when the name ends in '.gz'.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			k7, store, err := rootOpts.loadCassette(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			k7Opts := []cassette.Option{
				cassette.WithStore(store),
				cassette.WithCompressThreshold(compressThreshold),
			}

			if encryptKeyFile != "" {
				crypter, err := newCrypter(encryptKeyFile, rootOpts.cipher)
				if err != nil {
					return err
				}
				k7Opts = append(k7Opts, cassette.WithCrypter(crypter))
			}

			return k7.CopyTo(cmd.Context(), args[1], k7Opts...)
		},
	}

	cmd.Flags().StringVar(&encryptKeyFile, "encrypt-key-file", "", "key to encrypt the new cassette with")
	cmd.Flags().IntVar(&compressThreshold, "compress-threshold", 0, "gzip bodies larger than this many bytes (0: never)")

	return cmd
}

// writerStore is a write-only store that sends cassettes to w.
type writerStore struct {
	w io.Writer
}

func (s *writerStore) MkdirAll(context.Context, string, os.FileMode) error {
	return nil
}

func (s *writerStore) ReadFile(context.Context, string) ([]byte, error) {
	return nil, fs.ErrNotExist
}

func (s *writerStore) WriteFile(_ context.Context, _ string, data []byte, _ os.FileMode) error {
	_, err := s.w.Write(data)
	return err
}

func (s *writerStore) NotExist(context.Context, string) (bool, error) {
	return true, nil
}
