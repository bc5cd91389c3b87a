package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pterm/pterm"
	"github.com/vctt94/bisonbotkit/logging"

	"github.com/stacksgame/stacks-server/pkg/client"
	"github.com/stacksgame/stacks-server/pkg/game"
	"github.com/stacksgame/stacks-server/pkg/server"
)

func main() {
	var (
		addr       string
		fid        string
		debugLevel string
	)
	flag.StringVar(&addr, "addr", "127.0.0.1:8080", "Game server address")
	flag.StringVar(&fid, "fid", "", "Identity key (numeric = authenticated)")
	flag.StringVar(&debugLevel, "debuglevel", "warn", "Logging level")
	flag.Parse()

	if fid == "" {
		fid = fmt.Sprintf("u_cli%d", os.Getpid())
	}

	logBackend, _ := logging.NewLogBackend(logging.LogConfig{DebugLevel: debugLevel})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c, err := client.Dial(ctx, client.Config{
		ServerAddr: addr,
		Fid:        fid,
		LogBackend: logBackend,
	})
	if err != nil {
		pterm.Error.Printfln("connect failed: %v", err)
		os.Exit(1)
	}
	defer c.Close()

	pterm.DefaultHeader.Printfln("stacks @ %s (identity %s)", addr, fid)
	pterm.Info.Println("commands: bet <andar|bahar> <amount>, claim <fid> [username], balance, add <n>, sub <n>, quit")

	go printEvents(c)

	reader := pterm.DefaultInteractiveTextInput
	for {
		line, _ := reader.Show(">")
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "bet":
			if len(fields) != 3 {
				pterm.Warning.Println("usage: bet <andar|bahar> <amount>")
				continue
			}
			amount, err := strconv.ParseInt(fields[2], 10, 64)
			if err != nil {
				pterm.Warning.Println("amount must be a number")
				continue
			}
			if err := c.PlaceBet(game.Side(fields[1]), amount); err != nil {
				pterm.Error.Printfln("bet failed: %v", err)
			}

		case "claim":
			if len(fields) < 2 {
				pterm.Warning.Println("usage: claim <fid> [username]")
				continue
			}
			req := server.ClaimIdentityRequest{Fid: server.FlexID(fields[1])}
			if len(fields) > 2 {
				req.Username = fields[2]
			}
			if err := c.ClaimIdentity(req); err != nil {
				pterm.Error.Printfln("claim failed: %v", err)
			}

		case "balance":
			if err := c.RequestUserInfo(); err != nil {
				pterm.Error.Printfln("request failed: %v", err)
			}

		case "add", "sub":
			if len(fields) != 2 {
				pterm.Warning.Printfln("usage: %s <amount>", fields[0])
				continue
			}
			amount, err := strconv.ParseInt(fields[1], 10, 64)
			if err != nil {
				pterm.Warning.Println("amount must be a number")
				continue
			}
			if fields[0] == "add" {
				err = c.AddChips(amount)
			} else {
				err = c.RemoveChips(amount)
			}
			if err != nil {
				pterm.Error.Printfln("%s failed: %v", fields[0], err)
			}

		case "quit", "exit":
			_ = c.LeaveSession()
			return

		default:
			pterm.Warning.Printfln("unknown command %q", fields[0])
		}
	}
}

// printEvents renders server events as they arrive.
func printEvents(c *client.Client) {
	for env := range c.Events() {
		switch env.Type {
		case server.EventUserInfo:
			var info server.UserInfoPayload
			if json.Unmarshal(env.Data, &info) == nil {
				pterm.Info.Printfln("identity %s, %d chips", info.Fid, info.Chips)
			}

		case server.EventLobbyTimer:
			var left int
			if json.Unmarshal(env.Data, &left) == nil && left <= 5 {
				pterm.Println(pterm.Gray(fmt.Sprintf("betting closes in %ds", left)))
			}

		case server.EventCardDrawn:
			var cd server.CardDrawnPayload
			if json.Unmarshal(env.Data, &cd) == nil {
				pterm.Printfln("%s <- %s", cd.Card.Side, cd.Card.Card)
			}

		case server.EventBetAccepted:
			var ba server.BetAcceptedPayload
			if json.Unmarshal(env.Data, &ba) == nil {
				pterm.Success.Printfln("bet accepted: %d on %s (pots %d/%d)",
					ba.Amount, ba.Side, ba.TotalBetsAndar, ba.TotalBetsBahar)
			}

		case server.EventGameComplete:
			var gc server.GameCompletePayload
			if json.Unmarshal(env.Data, &gc) == nil {
				pterm.DefaultBox.Printfln("%s wins after %d cards", gc.Winner, gc.TotalCards)
			}

		case server.EventChipsUpdate:
			var cu server.ChipsUpdatePayload
			if json.Unmarshal(env.Data, &cu) == nil {
				pterm.Info.Printfln("balance: %d chips", cu.Chips)
			}

		case server.EventGameError:
			var msg string
			if json.Unmarshal(env.Data, &msg) == nil {
				pterm.Error.Println(msg)
			}
		}
	}
	pterm.Warning.Println("disconnected")
}
