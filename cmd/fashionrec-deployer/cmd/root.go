package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fashionrec/fashionrec-deploy/internal/config"
	"github.com/fashionrec/fashionrec-deploy/internal/service/deployer"
	"github.com/fashionrec/fashionrec-deploy/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string
	// host is the SSH host to deploy to.
	host string
	// port is the SSH port on the host.
	port int
	// user is the SSH user on the host.
	user string
	// keyFile is the SSH private key for authentication.
	keyFile string
	// secret is the runtime credential passed to the deployed service.
	secret string
	// domain is the public domain for the reverse proxy and TLS certificate.
	domain string
	// useLocal switches deployment to slot directories on this machine.
	useLocal bool
	// skipRuntime, skipProxy and skipCerts disable the optional stages.
	skipRuntime bool
	skipProxy   bool
	skipCerts   bool
	// statusOnly reports the deployment state instead of deploying.
	statusOnly bool

	// rootCmd represents the base command for rolling out a release.
	rootCmd = &cobra.Command{
		Use:   "fashionrec-deployer [archive]",
		Short: "Deploy a packaged release to the pipeline host",
		Long: `Uploads a packaged release archive to the target host, rotates the
current installation into a backup slot, extracts and starts the new
version, and gates the rollout on health probes.

If the new version fails its health window the previous installation is
restored from the backup slot automatically. A rollback that itself fails
leaves the service down and is reported as requiring manual intervention.

SSH coordinates and rollout settings come from the configuration file;
flags override it and the resolved values are saved back for the next run.
The archive path defaults to the configured release filename.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			options := &deployer.Options{
				ConfigPath:  configPath,
				Host:        host,
				Port:        port,
				User:        user,
				KeyFile:     keyFile,
				Secret:      secret,
				Domain:      domain,
				UseLocal:    useLocal,
				SkipRuntime: skipRuntime,
				SkipProxy:   skipProxy,
				SkipCerts:   skipCerts,
				StatusOnly:  statusOnly,
			}

			if len(args) > 0 {
				options.ArchivePath = args[0]
			}

			return deployer.Run(ctx, options)
		},
	}
)

// Execute runs the fashionrec-deployer CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	rootCmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	rootCmd.Flags().StringVarP(&host, "host", "H", "", "SSH host to deploy to")
	rootCmd.Flags().IntVarP(&port, "port", "p", 0, "SSH port on the host")
	rootCmd.Flags().StringVarP(&user, "user", "u", "", "SSH user on the host")
	rootCmd.Flags().StringVarP(&keyFile, "key", "k", "", "path to the SSH private key")
	rootCmd.Flags().StringVarP(&secret, "secret", "s", "", "runtime API credential for the pipeline service")
	rootCmd.Flags().StringVarP(&domain, "domain", "d", "", "public domain for proxy and TLS certificate")
	rootCmd.Flags().BoolVar(&useLocal, "local", false, "deploy into slot directories on this machine")
	rootCmd.Flags().BoolVar(&skipRuntime, "skip-runtime", false, "skip installing the language runtime")
	rootCmd.Flags().BoolVar(&skipProxy, "skip-proxy", false, "skip configuring the reverse proxy")
	rootCmd.Flags().BoolVar(&skipCerts, "skip-certs", false, "skip issuing the TLS certificate")
	rootCmd.Flags().BoolVar(&statusOnly, "status", false, "report deployment status and exit")
}
