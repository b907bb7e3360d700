package callctl

import (
	"context"
	"fmt"
	"io"

	"github.com/callrelay/callrelay/internal/callreport/repository"
	"github.com/callrelay/callrelay/internal/common/database"
	"github.com/callrelay/callrelay/internal/common/util"
)

// Summary computes a summary straight from postgres and prints it as tables.
func (a *App) Summary(ctx context.Context, filter *repository.Filter) error {
	db, err := database.OpenSqlDb(ctx, a.Params.Postgres)
	if err != nil {
		return err
	}
	defer util.CloseResource("postgres", db)

	summary, err := repository.NewSqlSummaryRepository(db).GetSummary(ctx, filter)
	if err != nil {
		return err
	}
	printSummary(a.Out, summary)
	return nil
}

func printSummary(out io.Writer, s *repository.Summary) {
	w := util.NewTabbedStringBuilder(1, 1, 2, ' ', 0)
	w.Writef("Total calls:\t%d\n", s.TotalCalls)
	w.Writef("Avg processing time (ms):\t%.2f\n", s.Performance.AvgProcessingTimeMs)
	w.Writef("Avg storage time (ms):\t%.2f\n", s.Performance.AvgStorageTimeMs)
	fmt.Fprintln(out, w.String())

	w = util.NewTabbedStringBuilder(1, 1, 2, ' ', 0)
	w.Writef("CAMPAIGN\tTOTAL\tANSWERED\tMISSED\tCONNECTED\n")
	for _, c := range s.ByCampaign {
		w.Writef("%s\t%d\t%d\t%d\t%d\n", c.CampaignName, c.Total, c.Answered, c.Missed, c.Connected)
	}
	fmt.Fprintln(out, w.String())

	w = util.NewTabbedStringBuilder(1, 1, 2, ' ', 0)
	w.Writef("DTMF\tTOTAL\tANSWERED\tMISSED\tCONNECTED\n")
	for _, d := range s.ByDtmf {
		value := "null"
		if d.DtmfValue != nil {
			value = fmt.Sprint(*d.DtmfValue)
		}
		w.Writef("%s\t%d\t%d\t%d\t%d\n", value, d.Total, d.Answered, d.Missed, d.Connected)
	}
	fmt.Fprintln(out, w.String())

	w = util.NewTabbedStringBuilder(1, 1, 2, ' ', 0)
	w.Writef("STATUS\tCOUNT\tPERCENT\n")
	for _, st := range s.ByCallStatus {
		w.Writef("%s\t%d\t%.2f\n", st.Status, st.Count, st.Percentage)
	}
	fmt.Fprintln(out, w.String())

	w = util.NewTabbedStringBuilder(1, 1, 2, ' ', 0)
	w.Writef("TYPE\tCOUNT\n")
	for _, t := range s.ByCallType {
		w.Writef("%s\t%d\n", t.Type, t.Count)
	}
	fmt.Fprint(out, w.String())
}
