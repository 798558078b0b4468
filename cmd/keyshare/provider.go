package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sensiblebit/keyshare/internal"
	"github.com/sensiblebit/keyshare/internal/provider"
)

var (
	providerRoot         string
	providerSocket       string
	providerName         string
	providerPasswordFile string
	providerPasswordEnv  string
)

// errOutsideRoot is returned for fetches naming a resource the provider
// does not own.
var errOutsideRoot = errors.New("resource is outside the provider root")

var providerCmd = &cobra.Command{
	Use:   "provider",
	Short: "Run a reference password provider",
}

var providerServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the password for resources under a directory",
	Long: "Write a provider manifest at the root directory and serve the password service on a local " +
		"socket until interrupted. Every resource under the root shares one password, read from a " +
		"file or an environment variable.",
	Example: `  KEYSHARE_PROVIDER_PASSWORD=s3cret keyshare provider serve --root ~/Providers/Acme
  keyshare provider serve --root ./shared --password-file ./pw.txt --socket /tmp/acme.sock`,
	Args: cobra.NoArgs,
	RunE: runProviderServe,
}

func init() {
	f := providerServeCmd.Flags()
	f.StringVar(&providerRoot, "root", "", "Directory whose resources this provider serves (required)")
	f.StringVar(&providerSocket, "socket", "", "Socket path or npipe:// endpoint (default: <root>/.keyshare.sock)")
	f.StringVar(&providerName, "name", "keyshare-reference", "Provider name written to the manifest")
	f.StringVar(&providerPasswordFile, "password-file", "", "File whose first line is the password")
	f.StringVar(&providerPasswordEnv, "password-env", internal.DefaultPasswordEnv, "Environment variable holding the password")
	if err := providerServeCmd.MarkFlagRequired("root"); err != nil {
		panic(err)
	}
	registerCompletion(providerServeCmd, completionInput{flagName: "root", completeFunc: directoryCompletion})
	registerCompletion(providerServeCmd, completionInput{flagName: "password-file", completeFunc: fileCompletion})

	providerCmd.AddCommand(providerServeCmd)
}

func runProviderServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	root, err := filepath.Abs(providerRoot)
	if err != nil {
		return fmt.Errorf("resolving root: %w", err)
	}
	secret, err := internal.LoadProviderPassword(providerPasswordFile, providerPasswordEnv)
	if err != nil {
		return err
	}

	endpoint, err := serveEndpoint(root, providerSocket)
	if err != nil {
		return err
	}
	lis, err := provider.Listen(endpoint)
	if err != nil {
		return err
	}

	manifest := provider.Manifest{
		Provider: providerName,
		Services: []provider.Service{{
			Name:      "password",
			Interface: provider.ServiceName,
			Endpoint:  endpoint,
		}},
	}
	if err := provider.WriteManifest(root, manifest); err != nil {
		_ = lis.Close()
		return err
	}

	srv := provider.NewServer(rootPassword(root, secret))
	go func() {
		<-ctx.Done()
		srv.Stop()
	}()
	slog.Info("serving passwords", "provider", providerName, "root", root, "endpoint", endpoint)
	fmt.Fprintf(cmd.OutOrStdout(), "Serving %s on %s (manifest %s)\n", root, endpoint, filepath.Join(root, provider.ManifestName))
	return srv.Serve(lis)
}

// serveEndpoint returns the manifest endpoint for socket, defaulting to a
// socket in root.
func serveEndpoint(root, socket string) (string, error) {
	if strings.HasPrefix(socket, "npipe://") {
		return socket, nil
	}
	if socket == "" {
		if runtime.GOOS == "windows" {
			return `npipe://\\.\pipe\keyshare-` + filepath.Base(root), nil
		}
		socket = filepath.Join(root, ".keyshare.sock")
	}
	abs, err := filepath.Abs(socket)
	if err != nil {
		return "", fmt.Errorf("resolving socket path: %w", err)
	}
	return "unix://" + abs, nil
}

// rootPassword vends secret for resources under root only.
func rootPassword(root string, secret provider.Secret) provider.PasswordFunc {
	return func(_ context.Context, resource string) (provider.Secret, error) {
		rel, err := filepath.Rel(root, filepath.Clean(resource))
		if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return provider.Secret{}, fmt.Errorf("%s: %w", resource, errOutsideRoot)
		}
		return secret, nil
	}
}
