package util

import (
	"github.com/ValentinKolb/rkv/rpc/common"
	"github.com/ValentinKolb/rkv/rpc/pool"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"strings"
	"time"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		// Add space before word (if not first word on line)
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// SetupClientFlags adds the connection and pool flags to a command
func SetupClientFlags(cmd *cobra.Command) {
	key := "masters"
	cmd.PersistentFlags().String(key, "localhost:6379", WrapString("Comma-separated list of master addresses ([password@]host[:port]). Alternatively a single descriptor like 'host=foo;port=7000;db=2'"))

	key = "replicas"
	cmd.PersistentFlags().String(key, "", WrapString("Comma-separated list of replica addresses. Reads go to the masters when empty"))

	key = "password"
	cmd.PersistentFlags().String(key, "", WrapString("Password sent with AUTH to every endpoint without its own password"))

	key = "db"
	cmd.PersistentFlags().Int(key, 0, WrapString("Logical database selected on every connection"))

	key = "client-name"
	cmd.PersistentFlags().String(key, "rkv", WrapString("Name announced with CLIENT SETNAME (empty to skip)"))

	key = "tls"
	cmd.PersistentFlags().Bool(key, false, WrapString("Connect to all endpoints using TLS"))

	key = "pool-multiplier"
	cmd.PersistentFlags().Int(key, common.DefaultPoolSizeMultiplier, WrapString("Maximum number of pooled connections per host"))

	key = "pool-timeout"
	cmd.PersistentFlags().Duration(key, common.DefaultPoolTimeout, WrapString("How long to wait for a free pooled connection"))

	key = "timeout"
	cmd.PersistentFlags().Duration(key, 10*time.Second, WrapString("Send and receive timeout of every connection (0 to disable)"))

	key = "connect-timeout"
	cmd.PersistentFlags().Duration(key, common.DefaultConnectTimeout, WrapString("Timeout for establishing a connection"))

	key = "idle-timeout"
	cmd.PersistentFlags().Duration(key, 0, WrapString("Pooled connections idle for longer are replaced instead of reused (0 to disable)"))

	key = "tcp-nodelay"
	cmd.PersistentFlags().Bool(key, true, WrapString("Whether to enable TCP_NODELAY"))

	key = "tcp-keepalive"
	cmd.PersistentFlags().Int(key, 0, WrapString("The keepalive interval in seconds (0 to disable)"))

	key = "buffer-size"
	cmd.PersistentFlags().Int(key, common.DefaultBufferSize, WrapString("Size of the pooled outbound buffers in bytes"))

	key = "buffer-slots"
	cmd.PersistentFlags().Int(key, common.DefaultBufferPoolSlots, WrapString("Number of pooled outbound buffers"))

	key = "log-level"
	cmd.PersistentFlags().String(key, common.DefaultLogLevel, WrapString("The level at which logs will be output (debug, info, warn, error)"))
}

// InitClientConfig initializes configuration from environment variables
func InitClientConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("rkv")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// GetClientConfig reads the client configuration from viper
func GetClientConfig() (common.ClientConfig, error) {
	conf := common.DefaultClientConfig()

	timeout := viper.GetDuration("timeout")
	conf.SendTimeout = timeout
	conf.ReceiveTimeout = timeout
	conf.IdleTimeout = viper.GetDuration("idle-timeout")
	conf.ConnectTimeout = viper.GetDuration("connect-timeout")
	conf.PoolSizeMultiplier = viper.GetInt("pool-multiplier")
	conf.PoolTimeout = viper.GetDuration("pool-timeout")
	conf.TCPNoDelay = viper.GetBool("tcp-nodelay")
	conf.TCPKeepAliveSec = viper.GetInt("tcp-keepalive")
	conf.BufferSize = viper.GetInt("buffer-size")
	conf.BufferPoolCeiling = conf.BufferSize
	conf.BufferPoolSlots = viper.GetInt("buffer-slots")
	conf.LogLevel = viper.GetString("log-level")

	conf.Masters = applyEndpointFlags(ParseEndpoints(viper.GetString("masters")))
	conf.Replicas = applyEndpointFlags(ParseEndpoints(viper.GetString("replicas")))

	return conf, conf.Validate()
}

// ParseEndpoints parses a comma-separated address list. A value containing
// '=' is read as a single endpoint descriptor.
func ParseEndpoints(value string) []common.Endpoint {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}
	if strings.Contains(value, "=") {
		return []common.Endpoint{common.ParseEndpoint(value)}
	}
	return common.ParseAddrs(strings.Split(value, ",")...)
}

// NewManager initializes the loggers and opens a connection pool with the
// configuration from viper
func NewManager() (*pool.Manager, error) {
	conf, err := GetClientConfig()
	if err != nil {
		return nil, err
	}
	if err := common.InitLoggers(conf); err != nil {
		return nil, err
	}
	return pool.Open(conf)
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// applyEndpointFlags applies the endpoint wide flags to endpoints that do not
// set the value themselves
func applyEndpointFlags(endpoints []common.Endpoint) []common.Endpoint {
	password := viper.GetString("password")
	db := viper.GetInt("db")
	name := viper.GetString("client-name")
	useTLS := viper.GetBool("tls")

	for i, ep := range endpoints {
		if ep.Password == "" {
			ep.Password = password
		}
		if ep.DB == common.DefaultDB {
			ep.DB = db
		}
		endpoints[i] = ep.WithClientName(name).WithTLS(useTLS)
	}
	return endpoints
}
