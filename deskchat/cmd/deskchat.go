// Command deskchat runs the support desk server and its terminal clients.
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"deskchat/deskchat/client"
	"deskchat/deskchat/config"
	"deskchat/deskchat/controllers"
	"deskchat/deskchat/server"
	"deskchat/deskchat/sources/psql"
	"deskchat/deskchat/sources/psql/dao"
	"deskchat/deskchat/types"
	"deskchat/deskchat/utils/color"
	"deskchat/deskchat/utils/logging"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	defer logging.Sync()
	color.DisableIfNotTTY(os.Stdout)

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, color.ColorError("Error:"), err)
		os.Exit(1)
	}
}

type clientFlags struct {
	server    string
	logDir    string
	reconnect bool
}

func (f *clientFlags) options() []client.Option {
	var opts []client.Option
	if f.reconnect {
		opts = append(opts, client.WithReconnect(client.DefaultReconnectPolicy()))
	}
	return opts
}

func newRootCmd() *cobra.Command {
	flags := &clientFlags{}
	root := &cobra.Command{
		Use:           "deskchat",
		Short:         "Customer support chat desk",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.server, "server", "http://localhost:8000", "server base URL")
	root.PersistentFlags().StringVar(&flags.logDir, "log-dir", "./logs", "directory for client logs")
	root.PersistentFlags().BoolVar(&flags.reconnect, "reconnect", true, "re-join live chats after a dropped connection")

	root.AddCommand(
		newServeCmd(),
		newCreateAgentCmd(),
		newCustomerCmd(flags),
		newAgentCmd(flags),
	)
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and websocket server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			if err := logging.InitLogger(cfg.LogDir); err != nil {
				return err
			}
			srv, err := server.New(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer srv.Close()
			return srv.Run(cmd.Context())
		},
	}
}

func newCreateAgentCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create-agent EMAIL PASSWORD DISPLAY_NAME",
		Short: "Register a support agent",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			if err := logging.InitLogger(cfg.LogDir); err != nil {
				return err
			}
			db, err := psql.NewDatabase(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			agent, err := controllers.NewAuthController(dao.NewAgentDAO(db.DB), cfg).
				CreateAgent(cmd.Context(), args[0], args[1], args[2])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Agent %s created with id %s\n", agent.Email, agent.ID)
			return nil
		},
	}
}

func newCustomerCmd(flags *clientFlags) *cobra.Command {
	var name, message string
	cmd := &cobra.Command{
		Use:   "customer",
		Short: "Start a support chat as a customer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := logging.InitLogger(flags.logDir); err != nil {
				return err
			}
			ctx := cmd.Context()
			api := client.NewAPIClient(flags.server, nil)
			chat, err := api.CreateChat(ctx, name, message)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", color.ColorPrompt("Chat "+chat.ID+" started."), "Type a message, /quit to leave.")

			sess := api.NewSession(chat.ID, types.Participant{Type: types.SenderCustomer, ID: chat.ID}, flags.options()...)
			return talk(ctx, sess, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "your name")
	cmd.Flags().StringVar(&message, "message", "", "first message")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newAgentCmd(flags *clientFlags) *cobra.Command {
	var email, password string
	login := func(ctx context.Context) (*client.APIClient, error) {
		if err := logging.InitLogger(flags.logDir); err != nil {
			return nil, err
		}
		auth := client.NewAuthContext(flags.server)
		if err := auth.Login(ctx, email, password); err != nil {
			return nil, err
		}
		return client.NewAPIClient(flags.server, auth), nil
	}

	agent := &cobra.Command{
		Use:   "agent",
		Short: "Support agent tools",
	}
	agent.PersistentFlags().StringVar(&email, "email", os.Getenv("DESKCHAT_EMAIL"), "agent email")
	agent.PersistentFlags().StringVar(&password, "password", os.Getenv("DESKCHAT_PASSWORD"), "agent password")

	var interval time.Duration
	dashboard := &cobra.Command{
		Use:   "dashboard",
		Short: "Watch unassigned and assigned chats",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := login(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for snap := range client.NewCoordinator(api).Watch(cmd.Context(), interval) {
				printSnapshot(out, snap)
			}
			return nil
		},
	}
	dashboard.Flags().DurationVar(&interval, "interval", 5*time.Second, "refresh interval")

	claim := &cobra.Command{
		Use:   "claim CHAT_ID",
		Short: "Assign an unassigned chat to yourself",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := login(cmd.Context())
			if err != nil {
				return err
			}
			chat, err := client.NewCoordinator(api).Claim(cmd.Context(), args[0])
			if errors.Is(err, client.ErrAlreadyAssigned) {
				return errors.Errorf("chat %s was claimed by another agent", args[0])
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Claimed chat %s (%s)\n", chat.ID, chat.CustomerName)
			return nil
		},
	}

	chat := &cobra.Command{
		Use:   "chat CHAT_ID",
		Short: "Talk in one of your chats. /close ends the chat",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := login(cmd.Context())
			if err != nil {
				return err
			}
			me := types.Participant{Type: types.SenderAgent, ID: api.Auth().AgentID()}
			return talk(cmd.Context(), api.NewSession(args[0], me, flags.options()...), cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	agent.AddCommand(dashboard, claim, chat)
	return agent
}

// talk opens sess, prints its timeline and events, and sends each stdin line.
// It returns when the chat closes, stdin ends or ctx is done.
func talk(ctx context.Context, sess *client.ChatSession, in io.Reader, out io.Writer) error {
	defer sess.Close()
	if err := sess.Open(ctx); err != nil {
		return err
	}
	me := sess.Participant()
	printed := printTimeline(out, me, sess.Timeline(), 0)

	done := make(chan struct{})
	go func() {
		defer close(done)
		closedShown := false
		for ev := range sess.Events() {
			// the event stream may drop under load; the timeline does not
			printed = printTimeline(out, me, sess.Timeline(), printed)
			switch ev.Kind {
			case client.EventParticipantJoined:
				fmt.Fprintln(out, color.ColorSystem(fmt.Sprintf("* %s %s joined", ev.Participant.Type, ev.Participant.ID)))
			case client.EventConnectionChanged:
				if ev.State == client.ConnDisconnected {
					fmt.Fprintln(out, color.ColorWarning("* connection lost"))
				} else {
					fmt.Fprintln(out, color.ColorSystem(fmt.Sprintf("* connection %s", ev.State)))
				}
			case client.EventServerError:
				fmt.Fprintln(out, color.ColorError(fmt.Sprintf("! %v", ev.Err)))
			case client.EventChatClosed:
				fmt.Fprintln(out, color.ColorSystem("* chat closed"))
				closedShown = true
			}
		}
		printTimeline(out, me, sess.Timeline(), printed)
		if !closedShown && sess.Chat().Status == types.StatusClosed {
			fmt.Fprintln(out, color.ColorSystem("* chat closed"))
		}
	}()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			sess.Close()
			<-done
			return nil
		case <-done:
			return nil
		case line, ok := <-lines:
			if !ok {
				sess.Close()
				<-done
				return nil
			}
			line = strings.TrimSpace(line)
			var err error
			switch line {
			case "":
				continue
			case "/quit":
				sess.Close()
				<-done
				return nil
			case "/close":
				err = sess.CloseChat(ctx)
			default:
				err = sess.Send(ctx, line)
			}
			if err != nil {
				fmt.Fprintln(out, color.ColorError(fmt.Sprintf("! %v", err)))
			}
		}
	}
}

// printTimeline prints the messages after seq printed and returns the last
// seq printed.
func printTimeline(out io.Writer, me types.Participant, timeline []types.Message, printed int64) int64 {
	for _, m := range timeline {
		if m.Seq <= printed {
			continue
		}
		printMessage(out, me, m)
		printed = m.Seq
	}
	return printed
}

func printMessage(out io.Writer, me types.Participant, m types.Message) {
	who := color.ColorSender(string(m.SenderType), string(m.SenderType))
	if m.SenderType == me.Type && m.SenderID == me.ID {
		who = color.ColorSelf("you")
	}
	fmt.Fprintf(out, "[%s] %s: %s\n", m.CreatedAt.Local().Format("15:04:05"), who, m.Content)
}

func printSnapshot(out io.Writer, snap client.Snapshot) {
	if snap.Err != nil {
		fmt.Fprintln(out, color.ColorError(fmt.Sprintf("! refresh failed: %v", snap.Err)))
		return
	}
	fmt.Fprintf(out, "--- %s\n", snap.RefreshedAt.Local().Format(time.TimeOnly))
	fmt.Fprintln(out, color.ColorPrompt(fmt.Sprintf("Unassigned (%d)", len(snap.Unassigned))))
	for _, c := range snap.Unassigned {
		fmt.Fprintf(out, "  %s  %-20s  %s\n", c.ID, c.CustomerName, c.CreatedAt.Local().Format(time.DateTime))
	}
	fmt.Fprintln(out, color.ColorPrompt(fmt.Sprintf("Assigned to you (%d)", len(snap.Assigned))))
	for _, c := range snap.Assigned {
		fmt.Fprintf(out, "  %s  %s\n", c.ID, c.CustomerName)
	}
}
