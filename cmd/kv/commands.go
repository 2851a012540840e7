package kv

import (
	"context"
	"fmt"
	"github.com/ValentinKolb/rkv/cmd/util"
	"github.com/ValentinKolb/rkv/rpc/client"
	"github.com/ValentinKolb/rkv/rpc/proto"
	"github.com/ValentinKolb/rkv/rpc/txn"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"strconv"
	"strings"
	"time"
)

var (
	pingCmd = &cobra.Command{
		Use:   "ping",
		Short: "Checks the connection to a master and a read host",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			for _, role := range []client.Role{client.ReadWrite, client.ReadOnly} {
				start := time.Now()
				err := withRole(ctx, role, func(conn *client.Conn) error {
					if err := conn.Ping(); err != nil {
						return err
					}
					fmt.Printf("%-10s %s: PONG (%s)\n", role, conn.Endpoint(), time.Since(start))
					return nil
				})
				if err != nil {
					return err
				}
			}
			return nil
		},
	}
	setCmd = &cobra.Command{
		Use:   "set [key] [value]",
		Short: "Sets the value for a key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ttl, _ := cmd.Flags().GetDuration("ttl")
			return manager.WithClient(cmd.Context(), func(conn *client.Conn) error {
				if ttl <= 0 {
					return conn.Set(args[0], args[1])
				}
				reply, err := conn.Do("SET", args[0], args[1], "PX", strconv.FormatInt(ttl.Milliseconds(), 10))
				if err != nil {
					return err
				}
				return client.OKResult(reply)
			})
		},
	}
	getCmd = &cobra.Command{
		Use:   "get [key]",
		Short: "Reads the value for a key (from a replica if configured)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return manager.WithReadOnlyClient(cmd.Context(), func(conn *client.Conn) error {
				value, ok, err := conn.Get(args[0])
				if err != nil {
					return err
				}
				fmt.Printf("key=%s, found=%v, value=%s\n", args[0], ok, value)
				return nil
			})
		},
	}
	delCmd = &cobra.Command{
		Use:   "del [key...]",
		Short: "Deletes keys",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return manager.WithClient(cmd.Context(), func(conn *client.Conn) error {
				n, err := conn.Del(args...)
				if err != nil {
					return err
				}
				fmt.Printf("deleted=%d\n", n)
				return nil
			})
		},
	}
	hasCmd = &cobra.Command{
		Use:   "has [key]",
		Short: "Checks if a key exists",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return manager.WithReadOnlyClient(cmd.Context(), func(conn *client.Conn) error {
				n, err := conn.Exists(args[0])
				if err != nil {
					return err
				}
				fmt.Printf("key=%s, found=%t\n", args[0], n > 0)
				return nil
			})
		},
	}
	incrCmd = &cobra.Command{
		Use:   "incr [key]",
		Short: "Increments the integer stored at key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return manager.WithClient(cmd.Context(), func(conn *client.Conn) error {
				n, err := conn.Incr(args[0])
				if err != nil {
					return err
				}
				fmt.Printf("key=%s, value=%d\n", args[0], n)
				return nil
			})
		},
	}
	txnCmd = &cobra.Command{
		Use:   "txn [command...]",
		Short: "Runs commands atomically in one transaction",
		Long: util.WrapString(`Runs every argument as one command of a MULTI/EXEC transaction, e.g. rkv kv txn "SET a 1" "INCR a" "GET a". ` +
			`With --watch the transaction is only applied if none of the watched keys changed before the commit.`),
		Args: cobra.MinimumNArgs(1),
		RunE: runTxn,
	}
	rawCmd = &cobra.Command{
		Use:   "raw [command] [args...]",
		Short: "Sends a single command and prints the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return manager.WithClient(cmd.Context(), func(conn *client.Conn) error {
				reply, err := conn.Do(args...)
				var perr *proto.Error
				if err != nil && !errors.As(err, &perr) {
					return err
				}
				fmt.Println(reply)
				return nil
			})
		},
	}
)

func init() {
	setCmd.Flags().Duration("ttl", 0, "Expire the key after this duration (0 for no expiry)")
	txnCmd.Flags().StringSlice("watch", nil, "Keys to WATCH before the transaction")
}

// runTxn handles the txn command
func runTxn(cmd *cobra.Command, args []string) error {
	watch, _ := cmd.Flags().GetStringSlice("watch")

	return manager.WithClient(cmd.Context(), func(conn *client.Conn) error {
		if len(watch) > 0 {
			if err := conn.Watch(watch...); err != nil {
				return err
			}
		}

		tx, err := txn.Begin(conn)
		if err != nil {
			return err
		}
		defer tx.Close()

		for i, line := range args {
			fields := strings.Fields(line)
			if len(fields) == 0 {
				return errors.Errorf("command %d is empty", i)
			}
			err := tx.QueueCommand(func(reply proto.Reply) error {
				fmt.Printf("%d) %s -> %s\n", i+1, line, reply)
				return nil
			}, fields...)
			if err != nil {
				return err
			}
		}

		committed, err := tx.Commit()
		if err != nil {
			return err
		}
		if !committed {
			fmt.Println("transaction not applied, a watched key changed")
		}
		return nil
	})
}

// withRole runs fn on a leased connection of the given role
func withRole(ctx context.Context, role client.Role, fn func(conn *client.Conn) error) error {
	if role == client.ReadOnly {
		return manager.WithReadOnlyClient(ctx, fn)
	}
	return manager.WithClient(ctx, fn)
}
