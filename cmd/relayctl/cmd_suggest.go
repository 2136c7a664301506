package main

import (
	"encoding/base64"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"pawpal-relay/internal/config"
	"pawpal-relay/internal/features"
	"pawpal-relay/internal/httpclient"
	"pawpal-relay/internal/logx"
	"pawpal-relay/internal/relay"
	"pawpal-relay/internal/relayclient"
)

const maxImageBytes = 7 << 20

func newSuggestCmd(resolve func() (config.Client, error)) *cobra.Command {
	var (
		feature   string
		text      string
		imagePath string
		raw       bool
	)

	cmd := &cobra.Command{
		Use:   "suggest",
		Short: "Ask the relay for suggestions",
		Long: `Build the prompt for a feature and send it to the relay.

Examples:
  relayctl suggest --feature reply --text "Your corgi is adorable!"
  relayctl suggest --feature caption --image luna.jpg`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolve()
			if err != nil {
				return err
			}
			catalog, err := features.Load(cfg.FeaturesFile)
			if err != nil {
				return err
			}

			var img *relay.Image
			if imagePath != "" {
				if img, err = readImage(imagePath); err != nil {
					return err
				}
			}

			req, err := catalog.Build(feature, text, img)
			if err != nil {
				return err
			}

			client := relayclient.New(relayclient.Options{
				Endpoint: cfg.Endpoint,
				Token:    cfg.Token,
				HTTPClient: httpclient.New(httpclient.Options{
					PreferIPv4: cfg.PreferIPv4,
					Timeout:    cfg.HTTPTimeout,
					UserAgent:  "relayctl/1.0",
				}),
				Logger: logx.New(logx.Options{Level: cfg.LogLevel, Format: "console", Out: cmd.ErrOrStderr()}),
			})

			out := cmd.OutOrStdout()
			if raw {
				result, err := client.Generate(cmd.Context(), req)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, result)
				return nil
			}

			list, err := client.Suggest(cmd.Context(), req)
			if err != nil {
				return err
			}
			for i, s := range list {
				fmt.Fprintf(out, "%d. %s\n", i+1, s)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&feature, "feature", "f", "reply", "feature key (see relayctl features)")
	cmd.Flags().StringVarP(&text, "text", "t", "", "user text")
	cmd.Flags().StringVarP(&imagePath, "image", "i", "", "path to a photo to attach")
	cmd.Flags().BoolVar(&raw, "raw", false, "print the model text without parsing it")
	return cmd
}

func readImage(path string) (*relay.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) > maxImageBytes {
		return nil, fmt.Errorf("%s is larger than %d bytes", path, maxImageBytes)
	}

	mimeType := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}
	if !strings.HasPrefix(mimeType, "image/") {
		mimeType = http.DetectContentType(data)
	}
	if !strings.HasPrefix(mimeType, "image/") {
		mimeType = relay.DefaultImageMimeType
	}

	return &relay.Image{
		Base64:   base64.StdEncoding.EncodeToString(data),
		MimeType: mimeType,
	}, nil
}
