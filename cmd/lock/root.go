package lock

import (
	"fmt"
	"time"

	"github.com/ValentinKolb/ikv/cmd/util"
	"github.com/spf13/cobra"
)

var (
	session        *util.Session
	acquireTimeout uint64

	// LockCommands represents the lock command group
	LockCommands = &cobra.Command{
		Use:                "lock",
		Short:              "Perform lock operations",
		PersistentPreRunE:  openSession,
		PersistentPostRunE: closeSession,
	}

	// acquireCmd represents the acquire command
	acquireCmd = &cobra.Command{
		Use:   "acquire [name]",
		Short: "Acquire a lock",
		Args:  cobra.ExactArgs(1),
		RunE:  runAcquire,
	}

	// releaseCmd represents the release command
	releaseCmd = &cobra.Command{
		Use:   "release [name] [ownerID]",
		Short: "Release a previously acquired lock",
		Long:  "Release a lock using the name and owner ID. The owner ID is the one printed by the acquire command.",
		Args:  cobra.ExactArgs(2),
		RunE:  runRelease,
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitConfig)

	// Add subcommands to lock command
	LockCommands.AddCommand(acquireCmd)
	LockCommands.AddCommand(releaseCmd)

	// Add common store flags to the lock command
	util.SetupStoreFlags(LockCommands)

	// Add flags specific to acquire
	acquireCmd.Flags().Uint64Var(&acquireTimeout, "timeout", 30, "Lock timeout in seconds (0 for no timeout)")
}

// openSession opens the store holding the locks. Locks outlive the command.
func openSession(cmd *cobra.Command, _ []string) error {
	// Bind command flags to viper
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	var err error
	session, err = util.OpenSession(cmd.Context(), util.GetConfig())
	if err != nil {
		return err
	}
	session.Handle.KeepLocksOnClose(true)
	return nil
}

func closeSession(cmd *cobra.Command, _ []string) error {
	if session == nil {
		return nil
	}
	return session.Close(cmd.Context())
}

// runAcquire handles the acquire lock command
func runAcquire(cmd *cobra.Command, args []string) error {
	name := args[0]

	var (
		acquired bool
		ownerID  string
		err      error
	)
	session.Handle.AcquireLock(name, time.Duration(acquireTimeout)*time.Second, func(ok bool, owner string, e error) {
		acquired, ownerID, err = ok, owner, e
	})
	if runErr := session.Run(cmd.Context()); runErr != nil {
		return runErr
	}

	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}

	if !acquired {
		fmt.Printf("acquired=false\n")
		return nil
	}

	fmt.Printf("acquired=true, ownerId=%s\n", ownerID)
	return nil
}

// runRelease handles the release lock command
func runRelease(cmd *cobra.Command, args []string) error {
	name := args[0]
	ownerID := args[1]

	var (
		released bool
		err      error
	)
	session.Handle.ReleaseLock(name, ownerID, func(ok bool, e error) {
		released, err = ok, e
	})
	if runErr := session.Run(cmd.Context()); runErr != nil {
		return runErr
	}

	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}

	fmt.Printf("released=%v\n", released)
	return nil
}
