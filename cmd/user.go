package cmd

import (
	"errors"
	"os"
	"strings"

	"github.com/siteinspect/apiserver/internal/auth"
	"github.com/siteinspect/apiserver/internal/db"
	"github.com/siteinspect/apiserver/internal/events"
	"github.com/siteinspect/apiserver/internal/services"
	"github.com/siteinspect/apiserver/internal/store"
	"github.com/spf13/cobra"
)

var rootUser services.RegisterInput

// userCmd groups account administration commands.
var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage user accounts",
}

var createRootCmd = &cobra.Command{
	Use:   "create-root",
	Short: "Create an approved root account",
	Long: `Creates an approved root account. Root accounts cannot be created over HTTP.

	inspect user create-root --email root@example.com --first-name Site --last-name Owner

The password is read from --password or the ROOT_PASSWORD environment variable.
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, closeLog, err := loadLogger()
		if err != nil {
			return err
		}
		defer closeLog()

		if rootUser.Password == "" {
			rootUser.Password = os.Getenv("ROOT_PASSWORD")
		}
		if strings.TrimSpace(rootUser.Password) == "" {
			return errors.New("a password is required: pass --password or set ROOT_PASSWORD")
		}

		conn, err := db.Open(cmd.Context(), cfg.Database)
		if err != nil {
			return err
		}
		defer conn.Close()

		users := services.NewUserService(
			store.NewUserRepository(conn),
			auth.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL),
			events.Nop{},
			cfg.Auth.ResetTokenTTL,
			log,
		)
		user, err := users.CreateRoot(cmd.Context(), rootUser)
		if err != nil {
			log.Error().Err(err).Str("email", rootUser.Email).Msg("create root failed")
			return err
		}
		log.Info().Str("id", user.ID).Str("user_id", user.UserID).Str("email", user.Email).Msg("root account created")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(userCmd)
	userCmd.AddCommand(createRootCmd)

	createRootCmd.Flags().StringVar(&rootUser.Email, "email", "", "account email")
	createRootCmd.Flags().StringVar(&rootUser.FirstName, "first-name", "Root", "first name")
	createRootCmd.Flags().StringVar(&rootUser.LastName, "last-name", "", "last name")
	createRootCmd.Flags().StringVar(&rootUser.Password, "password", "", "account password")
	_ = createRootCmd.MarkFlagRequired("email")
}
