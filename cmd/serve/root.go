package serve

import (
	"fmt"
	cmdUtil "github.com/ValentinKolb/rkv/cmd/util"
	"github.com/ValentinKolb/rkv/rpc/common"
	"github.com/ValentinKolb/rkv/rpc/memserver"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"os"
	"os/signal"
	"strings"
	"syscall"
)

var (
	serveCmdConfig   = memserver.Config{}
	serveCmdEndpoint string
	ServeCmd         = &cobra.Command{
		Use:   "serve",
		Short: "Start an in-memory rkv server",
		Long: `Start an in-memory server speaking the RESP protocol. It supports the commands used by the client (including MULTI/EXEC, WATCH and SETNX) and is meant for local development and testing. The configuration can be set via command line flags or environment variables. The format of the environment variables is RKV_<flag> (e.g. RKV_ENDPOINT=0.0.0.0:7000)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(initConfig)

	// add flags
	key := "endpoint"
	ServeCmd.PersistentFlags().String(key, "0.0.0.0:6379", cmdUtil.WrapString("The address on which the server will listen"))

	key = "password"
	ServeCmd.PersistentFlags().String(key, "", cmdUtil.WrapString("Require clients to AUTH with this password"))

	key = "timeout"
	ServeCmd.PersistentFlags().Duration(key, 0, cmdUtil.WrapString("Read and write timeout for client sockets (0 to disable)"))

	key = "log-level"
	ServeCmd.PersistentFlags().String(key, "info", cmdUtil.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// processConfig reads the configuration from the command line flags and environment variables and converts them to the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	// bind the flags to viper
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	serveCmdEndpoint = viper.GetString("endpoint")
	serveCmdConfig.Password = viper.GetString("password")
	serveCmdConfig.Timeout = viper.GetDuration("timeout")

	if serveCmdEndpoint == "" {
		return fmt.Errorf("endpoint must not be empty")
	}

	logConfig := common.DefaultClientConfig()
	logConfig.LogLevel = viper.GetString("log-level")
	return common.InitLoggers(logConfig)
}

// run starts the server and stops it on SIGINT or SIGTERM
func run(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serv := memserver.New(serveCmdConfig)
	if err := serv.Start(serveCmdEndpoint); err != nil {
		return err
	}
	memserver.Logger.Infof("listening on %s", serv.Addr())

	<-ctx.Done()
	memserver.Logger.Infof("shutting down")
	if err := serv.Close(); err != nil && !errors.Is(err, memserver.ErrServerClosed) {
		return err
	}
	return nil
}

// initConfig reads in ENV variables if set.
func initConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("rkv")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}
