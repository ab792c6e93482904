package main

import (
	"context"

	"github.com/MrEthical07/identityflow"
	"github.com/spf13/cobra"
)

type workflowFunc func(ctx context.Context, e *identityflow.Engine, args []string) (identityflow.AuthenticationResult, error)

// workflowCmd runs one engine operation and prints its result. Only
// infrastructure errors make the command fail.
func workflowCmd(opts *rootOptions, use, short string, nargs int, run workflowFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(nargs),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := openRuntime(cmd, opts)
			if err != nil {
				return err
			}
			defer rt.Close()

			res, err := run(cmd.Context(), rt.engine, args)
			if err != nil {
				return rt.fail(cmd.Name()+" failed", err)
			}
			printResult(rt.out, res)
			return nil
		},
	}
}

func newRegisterCmd(opts *rootOptions) *cobra.Command {
	return workflowCmd(opts, "register <identity> <password>", "Register an account", 2,
		func(ctx context.Context, e *identityflow.Engine, args []string) (identityflow.AuthenticationResult, error) {
			return e.Register(ctx, identityflow.RegistrationInput{Identity: args[0], Credential: args[1]})
		})
}

func newConfirmCmd(opts *rootOptions) *cobra.Command {
	return workflowCmd(opts, "confirm <identity> <code>", "Confirm an identity with a confirmation code", 2,
		func(ctx context.Context, e *identityflow.Engine, args []string) (identityflow.AuthenticationResult, error) {
			return e.ConfirmIdentity(ctx, args[0], args[1])
		})
}

func newResendConfirmationCmd(opts *rootOptions) *cobra.Command {
	return workflowCmd(opts, "resend-confirmation <identity>", "Send a new confirmation code", 1,
		func(ctx context.Context, e *identityflow.Engine, args []string) (identityflow.AuthenticationResult, error) {
			return e.RequestConfirmation(ctx, args[0])
		})
}

func newRecoverCmd(opts *rootOptions) *cobra.Command {
	return workflowCmd(opts, "recover <identity>", "Send a password reset code", 1,
		func(ctx context.Context, e *identityflow.Engine, args []string) (identityflow.AuthenticationResult, error) {
			return e.RequestRecovery(ctx, args[0])
		})
}

func newResetCmd(opts *rootOptions) *cobra.Command {
	return workflowCmd(opts, "reset <identity> <code> <password>", "Reset a password with a reset code", 3,
		func(ctx context.Context, e *identityflow.Engine, args []string) (identityflow.AuthenticationResult, error) {
			return e.ResetPassword(ctx, args[0], args[1], args[2])
		})
}

func newChangeCredentialCmd(opts *rootOptions) *cobra.Command {
	return workflowCmd(opts, "change-credential <identity> <current> <new>", "Change a password", 3,
		func(ctx context.Context, e *identityflow.Engine, args []string) (identityflow.AuthenticationResult, error) {
			return e.ChangeCredential(ctx, args[0], args[1], args[2])
		})
}
