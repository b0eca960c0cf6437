package main

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"bloomxr.dev/meshstudio/internal/auth"
	"bloomxr.dev/meshstudio/internal/client"
)

var version = "dev"

// App carries everything the commands touch outside the process so tests can
// swap it.
type App struct {
	Out        io.Writer
	Err        io.Writer
	GetEnv     func(string) string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

func DefaultApp() *App {
	return &App{
		Out:        os.Stdout,
		Err:        os.Stderr,
		GetEnv:     os.Getenv,
		HTTPClient: &http.Client{},
		Logger:     zap.NewNop(),
	}
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	return newRootCmd(DefaultApp()).Execute()
}

func newRootCmd(app *App) *cobra.Command {
	var server string

	cmd := &cobra.Command{
		Use:   "meshctl",
		Short: "Drive a meshstudio server from the command line",
		Long: `meshctl sends images to a meshstudio server for 3D generation and
downloads the results.

Examples:
  meshctl generate molar-front.png molar-side.png
  meshctl convert https://cdn.example/mesh.glb --format stl -o molar.stl
  meshctl fetch https://cdn.example/mesh.glb -o molar.glb
  meshctl token --uid dev --email dev@example.com`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetOut(app.Out)
	cmd.SetErr(app.Err)

	defaultServer := app.GetEnv("MESHSTUDIO_SERVER")
	if defaultServer == "" {
		defaultServer = "http://localhost:8080"
	}
	cmd.PersistentFlags().StringVar(&server, "server", defaultServer, "meshstudio server base URL (defaults to MESHSTUDIO_SERVER)")

	relayClient := func() *client.RelayClient {
		return client.NewRelayClient(server, app.HTTPClient, app.Logger)
	}

	cmd.AddCommand(
		newGenerateCmd(app, relayClient),
		newConvertCmd(app, relayClient),
		newFetchCmd(app, relayClient),
		newTokenCmd(app),
	)
	return cmd
}

func newGenerateCmd(app *App, relayClient func() *client.RelayClient) *cobra.Command {
	return &cobra.Command{
		Use:   "generate IMAGE...",
		Short: "Generate a 3D model from one or more images",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			files, err := readUploads(args)
			if err != nil {
				return err
			}

			ctrl := client.NewController(relayClient(), client.WithObserver(func(s client.State) {
				if s.IsLoading() {
					fmt.Fprintf(app.Err, "Generating model from %d image(s)...\n", len(files))
				}
			}))
			ctrl.SetUploadedFiles(files)

			st, err := ctrl.GenerateModel(ctx, ctrl.UploadedFiles())
			if err != nil {
				return err
			}
			if st.Phase != client.PhaseSucceeded {
				return errors.New(st.Message)
			}

			fmt.Fprintf(app.Out, "Model URL: %s\n", st.Result.MeshURL)
			fmt.Fprintf(app.Out, "Seed:      %d\n", st.Result.Seed)
			fmt.Fprintf(app.Out, "Viewer:    %s\n", ctrl.ProxyURL())
			return nil
		},
	}
}

func newConvertCmd(app *App, relayClient func() *client.RelayClient) *cobra.Command {
	var format, output string

	cmd := &cobra.Command{
		Use:   "convert MODEL_URL",
		Short: "Convert a generated GLB model to STL or OBJ",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dl, err := relayClient().Convert(cmd.Context(), args[0], format)
			if err != nil {
				return err
			}
			return saveDownload(app, dl, output)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "stl", "target format (stl, obj)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output path (defaults to the server-suggested name)")
	return cmd
}

func newFetchCmd(app *App, relayClient func() *client.RelayClient) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "fetch MODEL_URL",
		Short: "Download a model through the server's asset proxy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dl, err := relayClient().FetchAsset(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return saveDownload(app, dl, output)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output path (defaults to the file name in the URL)")
	return cmd
}

func newTokenCmd(app *App) *cobra.Command {
	var (
		id  auth.Identity
		ttl time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a development bearer token signed with JWT_SECRET",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := app.GetEnv("JWT_SECRET")
			if secret == "" {
				return errors.New("JWT_SECRET must be set to mint a token")
			}
			if id.UID == "" {
				return errors.New("--uid is required")
			}
			token, err := auth.GenerateJWT(secret, id, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(app.Out, token)
			return nil
		},
	}
	cmd.Flags().StringVar(&id.UID, "uid", "", "subject of the token")
	cmd.Flags().StringVar(&id.Email, "email", "", "email claim")
	cmd.Flags().StringVar(&id.DisplayName, "name", "", "display name claim")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

func readUploads(paths []string) ([]client.Upload, error) {
	files := make([]client.Upload, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("failed to read image: %w", err)
		}
		files = append(files, client.Upload{
			Name:        filepath.Base(p),
			ContentType: http.DetectContentType(data),
			Data:        data,
		})
	}
	return files, nil
}

func saveDownload(app *App, dl *client.Download, output string) error {
	if output == "" {
		output = dl.FileName
	}
	if err := os.WriteFile(output, dl.Data, 0o644); err != nil {
		return fmt.Errorf("failed to save %s: %w", output, err)
	}
	fmt.Fprintf(app.Out, "Saved %s (%d bytes)\n", output, len(dl.Data))
	return nil
}
