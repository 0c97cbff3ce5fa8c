package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/overhearops/overhearops/internal/adapter/postgres"
	"github.com/overhearops/overhearops/internal/domain/message"
	"github.com/overhearops/overhearops/internal/domain/replay"
	"github.com/overhearops/overhearops/internal/domain/run"
	"github.com/overhearops/overhearops/internal/domain/trace"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(w io.Writer) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleLight)
	return tw
}

func printRecord(w io.Writer, rec *run.Record) error {
	if jsonOutput() {
		return printJSON(w, rec)
	}

	tw := newTable(w)
	tw.SetTitle("Run " + rec.RunID)
	tw.AppendRows([]table.Row{
		{"Thread", rec.ThreadID},
		{"Mode", rec.Mode},
		{"Provider", rec.Provider},
		{"Intents", strings.Join(rec.Intents, ", ")},
		{"Winner", rec.Verdict.WinningPlan.ID},
		{"Votes", rec.Verdict.VoteCount},
		{"Uncertainty", rec.Verdict.Uncertainty},
		{"Verdict source", rec.Verdict.Source},
		{"Action", rec.Gate.Action},
		{"Certainty", fmt.Sprintf("%.2f", rec.Gate.Certainty)},
		{"Replay hash", rec.ReplayHash},
		{"Created", rec.CreatedAt.Format("2006-01-02 15:04:05Z07:00")},
	})
	tw.Render()

	plans := newTable(w)
	plans.SetTitle("Plans")
	plans.AppendHeader(table.Row{"ID", "Title", "Blast radius", "Confidence", "Artifact", "Failed"})
	for _, p := range rec.Plans {
		a := rec.Artifacts[p.ID]
		failed := ""
		if a.Failed {
			failed = a.Error
		}
		plans.AppendRow(table.Row{p.ID, p.Title, p.BlastRadius, fmt.Sprintf("%.2f", p.Confidence), a.Kind, failed})
	}
	plans.Render()

	if len(rec.Verdict.Votes) > 0 {
		votes := newTable(w)
		votes.SetTitle("Votes")
		votes.AppendHeader(table.Row{"Persona", "Plan", "Score"})
		for _, v := range rec.Verdict.Votes {
			votes.AppendRow(table.Row{v.Persona, v.PlanID, fmt.Sprintf("%.3f", v.Score)})
		}
		votes.Render()
	}
	return nil
}

func printSummaries(w io.Writer, runs []run.Summary) error {
	if jsonOutput() {
		if runs == nil {
			runs = []run.Summary{}
		}
		return printJSON(w, runs)
	}
	tw := newTable(w)
	tw.AppendHeader(table.Row{"Run", "Thread", "Mode", "Action", "Winner", "Replay hash", "Created"})
	for _, r := range runs {
		tw.AppendRow(table.Row{r.RunID, r.ThreadID, r.Mode, r.Action, r.WinnerID, shortHash(r.ReplayHash), r.CreatedAt.Format("2006-01-02 15:04:05")})
	}
	tw.Render()
	return nil
}

func printGraph(w io.Writer, g *trace.Graph) error {
	if jsonOutput() {
		return printJSON(w, g)
	}
	nodes := newTable(w)
	nodes.SetTitle("Nodes")
	nodes.AppendHeader(table.Row{"ID", "Stage", "Branch"})
	for _, n := range g.Nodes {
		nodes.AppendRow(table.Row{n.ID, n.Label, n.BranchID})
	}
	nodes.Render()

	edges := newTable(w)
	edges.SetTitle("Edges")
	edges.AppendHeader(table.Row{"From", "To"})
	for _, e := range g.Edges {
		edges.AppendRow(table.Row{e.Source, e.Target})
	}
	edges.Render()
	return nil
}

func printThreads(w io.Writer, counts map[string]int) error {
	ids := make([]string, 0, len(counts))
	for id := range counts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	if jsonOutput() {
		type entry struct {
			ThreadID string `json:"thread_id"`
			Messages int    `json:"messages"`
		}
		out := make([]entry, 0, len(ids))
		for _, id := range ids {
			out = append(out, entry{ThreadID: id, Messages: counts[id]})
		}
		return printJSON(w, out)
	}
	tw := newTable(w)
	tw.AppendHeader(table.Row{"Thread", "Messages"})
	for _, id := range ids {
		tw.AppendRow(table.Row{id, counts[id]})
	}
	tw.Render()
	return nil
}

func printMessages(w io.Writer, msgs []message.Message) error {
	if jsonOutput() {
		return printJSON(w, msgs)
	}
	tw := newTable(w)
	tw.AppendHeader(table.Row{"ID", "Created", "From", "Content"})
	for _, m := range msgs {
		tw.AppendRow(table.Row{m.ID, m.CreatedDateTime, m.Sender(), truncate(m.Content(), 72)})
	}
	tw.Render()
	return nil
}

func printSchedule(w io.Writer, threadID string, sched replay.Schedule) error {
	if jsonOutput() {
		return printJSON(w, map[string]any{
			"thread":        threadID,
			"hash":          sched.Fingerprint(),
			"total_seconds": sched.Total().Seconds(),
			"schedule":      sched,
		})
	}
	tw := newTable(w)
	tw.SetTitle(fmt.Sprintf("%s  hash %s", threadID, sched.Fingerprint()))
	tw.AppendHeader(table.Row{"#", "Message", "Delay (s)", "Content"})
	for i, s := range sched {
		tw.AppendRow(table.Row{i + 1, s.Message.ID, fmt.Sprintf("%.3f", s.Delay), truncate(s.Message.Content(), 60)})
	}
	tw.AppendFooter(table.Row{"", "total", fmt.Sprintf("%.3f", sched.Total().Seconds()), ""})
	tw.Render()
	return nil
}

func printMigrations(w io.Writer, ms []postgres.Migration) error {
	if jsonOutput() {
		return printJSON(w, ms)
	}
	tw := newTable(w)
	tw.SetTitle("Schema migrations")
	tw.AppendHeader(table.Row{"Version", "Name", "State", "Applied at"})
	for _, m := range ms {
		state, at := "pending", ""
		if m.Applied {
			state = "applied"
			at = m.AppliedAt.Format("2006-01-02 15:04:05Z07:00")
		}
		tw.AppendRow(table.Row{m.Version, m.Name, state, at})
	}
	tw.Render()
	return nil
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
