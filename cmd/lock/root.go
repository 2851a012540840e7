package lock

import (
	"fmt"
	"github.com/ValentinKolb/rkv/cmd/util"
	"github.com/ValentinKolb/rkv/lib/lockmgr"
	"github.com/ValentinKolb/rkv/rpc/pool"
	"github.com/spf13/cobra"
	"time"
)

var (
	manager    *pool.Manager
	rpcLockMgr lockmgr.ILockManager
	leaseTime  time.Duration

	// LockCommands represents the lock command group
	LockCommands = &cobra.Command{
		Use:                "lock",
		Short:              "Perform lock operations",
		PersistentPreRunE:  setupLockClient,
		PersistentPostRunE: closeLockClient,
	}

	// acquireCmd represents the acquire command
	acquireCmd = &cobra.Command{
		Use:   "acquire [key]",
		Short: "Acquire a lock",
		Long: util.WrapString("Acquire a lock on key. The lock stays held until it is released or its lease expires. " +
			"The lease is also the time spent waiting for a held lock."),
		Args: cobra.ExactArgs(1),
		RunE: runAcquire,
	}

	// releaseCmd represents the release command
	releaseCmd = &cobra.Command{
		Use:   "release [key]",
		Short: "Release a lock",
		Long:  util.WrapString("Release the lock on key. The release does not check who holds the lock."),
		Args:  cobra.ExactArgs(1),
		RunE:  runRelease,
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitClientConfig)

	// Add subcommands to lock command
	LockCommands.AddCommand(acquireCmd)
	LockCommands.AddCommand(releaseCmd)

	// Add connection flags to the lock command
	util.SetupClientFlags(LockCommands)

	// Add flags specific to acquire
	acquireCmd.Flags().DurationVar(&leaseTime, "lease", 30*time.Second, "Lock lease and wait timeout (0 for no expiry)")
}

// setupLockClient initializes the lock manager client
func setupLockClient(cmd *cobra.Command, _ []string) error {
	// Bind command flags to viper
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	var err error
	manager, err = util.NewManager()
	if err != nil {
		return err
	}

	// Create the lock manager client
	rpcLockMgr = lockmgr.NewLockManager(manager)
	return nil
}

// closeLockClient closes the connection pool
func closeLockClient(_ *cobra.Command, _ []string) error {
	if manager == nil {
		return nil
	}
	return manager.Close()
}

// runAcquire handles the acquire lock command
func runAcquire(cmd *cobra.Command, args []string) error {
	key := args[0]

	// Attempt to acquire the lock
	lock, err := rpcLockMgr.AcquireLock(cmd.Context(), key, leaseTime)
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %v", err)
	}

	fmt.Printf("acquired=true, key=%s, token=%s, expires=%s\n", lock.Key(), lock.Token(), lock.ExpiresAt().Format(time.RFC3339))
	return nil
}

// runRelease handles the release lock command
func runRelease(cmd *cobra.Command, args []string) error {
	if err := rpcLockMgr.ReleaseLock(cmd.Context(), args[0]); err != nil {
		return fmt.Errorf("failed to release lock: %v", err)
	}

	fmt.Printf("released=true\n")
	return nil
}
