package main

import (
	"fmt"

	"github.com/luca-patrignani/greetme/api"
	"github.com/luca-patrignani/greetme/discovery"
	"github.com/luca-patrignani/greetme/ledger"
	"github.com/pterm/pterm"
)

const timeLayout = "2006-01-02 15:04:05"

func serveSummary(url string, st ledger.Status) string {
	return pterm.Sprintfln("API        %s", pterm.LightCyan(url)) +
		pterm.Sprintfln("Greetings  %d", st.TotalGreetings) +
		pterm.Sprintfln("Fund       %s (prize %s)", st.Balance, st.PrizeAmount) +
		pterm.Sprintf("Win chance %d%% every %s", st.WinProbabilityPercent, st.CooldownPeriod)
}

func greetingRows(records []ledger.Greeting) [][]string {
	rows := [][]string{{"#", "Author", "Greeting", "Time (UTC)"}}
	for _, g := range records {
		rows = append(rows, []string{
			fmt.Sprint(g.ID),
			shortAddress(g.Author),
			g.Text,
			g.Timestamp.UTC().Format(timeLayout),
		})
	}
	return rows
}

func renderGreetings(records []ledger.Greeting) error {
	return pterm.DefaultTable.WithHasHeader().WithData(greetingRows(records)).Render()
}

func statusRows(st ledger.Status, v api.VerifyResponse) [][]string {
	lastReward := "never"
	if st.LastRewardTime != nil {
		lastReward = st.LastRewardTime.UTC().Format(timeLayout)
	}
	integrity := pterm.LightGreen("valid")
	if !v.Valid {
		integrity = pterm.LightRed("broken: " + v.Error)
	}
	return [][]string{
		{"Field", "Value"},
		{"Greetings", fmt.Sprint(st.TotalGreetings)},
		{"Balance", st.Balance.String()},
		{"Initial balance", st.InitialBalance.String()},
		{"Prize", st.PrizeAmount.String()},
		{"Win probability", fmt.Sprintf("%d%%", st.WinProbabilityPercent)},
		{"Cooldown", st.CooldownPeriod.String()},
		{"Payouts", fmt.Sprint(st.Payouts)},
		{"Last reward", lastReward},
		{"Seed", fmt.Sprint(st.Seed)},
		{"Head", st.Head},
		{"Chain", integrity},
	}
}

func renderStatus(st ledger.Status, v api.VerifyResponse) error {
	return pterm.DefaultTable.WithHasHeader().WithBoxed().WithData(statusRows(st, v)).Render()
}

func renderEntries(entries []discovery.Entry) error {
	rows := [][]string{{"Name", "API"}}
	for _, e := range entries {
		rows = append(rows, []string{e.Name, e.APIURL})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
}

func printReceipt(r ledger.Receipt) {
	if r.Rewarded {
		pbox := pterm.DefaultBox.WithHorizontalPadding(4).WithTopPadding(1).WithBottomPadding(1)
		pbox.WithTitle(pterm.LightYellow("|WINNER|")).WithTitleTopCenter().
			Println(pterm.Sprintf("You won %s!", pterm.LightGreen(r.Prize.String())))
	}
	for _, ev := range r.Events {
		switch ev.Kind {
		case ledger.EventOutOfBalance:
			pterm.Warning.Printfln("The reward fund is out of balance (%s left)", ev.Balance)
		case ledger.EventCooldownNotOver:
			pterm.Info.Println("You drew a winning number, but the cooldown is not over yet")
		}
	}
}

// eventLine renders a live feed event on a single line.
func eventLine(ev ledger.Event) string {
	ts := ev.Time.UTC().Format(timeLayout)
	switch ev.Kind {
	case ledger.EventGreeted:
		return pterm.Sprintf("%s #%d %s: %s", pterm.Gray(ts), ev.Greeting.ID, pterm.LightCyan(shortAddress(ev.Greeting.Author)), ev.Greeting.Text)
	case ledger.EventRewardPaid:
		amount := ""
		if ev.Payout != nil {
			amount = ev.Payout.Amount.String()
		}
		return pterm.Sprintf("%s #%d %s won %s", pterm.Gray(ts), ev.Greeting.ID, pterm.LightCyan(shortAddress(ev.Greeting.Author)), pterm.LightGreen(amount))
	case ledger.EventOutOfBalance:
		return pterm.Sprintf("%s %s fund balance %s", pterm.Gray(ts), pterm.LightRed("out of balance:"), ev.Balance)
	default:
		return pterm.Sprintf("%s #%d %s", pterm.Gray(ts), ev.Greeting.ID, pterm.Yellow(string(ev.Kind)))
	}
}

func shortAddress(address string) string {
	if len(address) <= 12 {
		return address
	}
	return address[:6] + "…" + address[len(address)-4:]
}
