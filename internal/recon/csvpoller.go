package recon

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fleetsutra/fastag/internal/config"
	paymentdomain "github.com/fleetsutra/fastag/internal/payment/domain"
	txndomain "github.com/fleetsutra/fastag/internal/txn/domain"
	"github.com/fleetsutra/fastag/pkg/money"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const processedSuffix = ".done"

// CSVPoller ingests bank statement exports dropped into a directory. Each
// file is renamed with a .done suffix after ingestion so reruns skip it.
type CSVPoller struct {
	log    *zap.Logger
	dir    string
	holder *config.ReconConfigHolder
	intake paymentdomain.IntakeService
}

type CSVPollerParams struct {
	fx.In

	Log    *zap.Logger
	Cfg    config.Config
	Holder *config.ReconConfigHolder
	Intake paymentdomain.IntakeService
}

func NewCSVPoller(p CSVPollerParams) *CSVPoller {
	return &CSVPoller{
		log:    p.Log.Named("recon.csv_poller"),
		dir:    p.Cfg.UPI.CSVDir,
		holder: p.Holder,
		intake: p.Intake,
	}
}

// RunOnce scans the drop directory and ingests any unprocessed statements.
func (p *CSVPoller) RunOnce(ctx context.Context) error {
	if strings.TrimSpace(p.dir) == "" {
		return nil
	}

	entries, err := os.ReadDir(p.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var errs error
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.EqualFold(filepath.Ext(name), ".csv") {
			continue
		}

		path := filepath.Join(p.dir, name)
		if err := p.ingestFile(ctx, path); err != nil {
			p.log.Warn("statement ingestion failed",
				zap.String("file", name),
				zap.Error(err),
			)
			errs = errors.Join(errs, err)
			continue
		}
		if err := os.Rename(path, path+processedSuffix); err != nil {
			errs = errors.Join(errs, err)
		}
	}
	return errs
}

// columnMap resolves which CSV columns hold which fields, by configured
// name first and header keywords second.
type columnMap struct {
	amount  int
	vpa     int
	remarks int
	utr     int
}

func (p *CSVPoller) ingestFile(ctx context.Context, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return err
	}
	cols := p.detectColumns(header)
	if cols.remarks < 0 {
		return errors.New("no remarks column detected in " + filepath.Base(path))
	}

	rows, credits := 0, 0
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		rows++
		if p.ingestRow(ctx, cols, record) {
			credits++
		}
	}

	p.log.Info("statement ingested",
		zap.String("file", filepath.Base(path)),
		zap.Int("rows", rows),
		zap.Int("credits_matched", credits),
	)
	return nil
}

func (p *CSVPoller) ingestRow(ctx context.Context, cols columnMap, record []string) bool {
	remarks := field(record, cols.remarks)
	localTxnID := txndomain.ExtractLocalTxnID(remarks)
	if localTxnID == "" {
		return false
	}

	conf := &paymentdomain.Confirmation{
		Channel:    paymentdomain.ChannelCSV,
		LocalTxnID: localTxnID,
		PaymentID:  field(record, cols.utr),
		PayeeVPA:   strings.ToLower(field(record, cols.vpa)),
	}
	if raw := field(record, cols.amount); raw != "" {
		paise, err := money.ParsePaise(raw)
		if err != nil {
			p.log.Warn("unparseable statement amount",
				zap.String("local_txn_id", localTxnID),
				zap.String("amount", raw),
			)
			return false
		}
		conf.AmountPaise = paise
	}

	outcome, err := p.intake.Confirm(ctx, conf)
	if err != nil {
		p.log.Warn("statement confirmation failed",
			zap.String("local_txn_id", localTxnID),
			zap.Error(err),
		)
		return false
	}
	return outcome == paymentdomain.OutcomeApplied
}

func (p *CSVPoller) detectColumns(header []string) columnMap {
	cfg := p.holder.Get().CSV
	cols := columnMap{amount: -1, vpa: -1, remarks: -1, utr: -1}

	for i, name := range header {
		name = strings.ToLower(strings.TrimSpace(name))
		switch {
		case matchColumn(name, cfg.AmountCol, "amount", "amt"):
			setIfUnset(&cols.amount, i)
		case matchColumn(name, cfg.VPACol, "vpa", "payee"):
			setIfUnset(&cols.vpa, i)
		case matchColumn(name, cfg.RemarksCol, "remark", "narration", "description", "note"):
			setIfUnset(&cols.remarks, i)
		case matchColumn(name, cfg.UTRCol, "utr", "rrn", "ref"):
			setIfUnset(&cols.utr, i)
		}
	}
	return cols
}

func matchColumn(name, configured string, keywords ...string) bool {
	if configured != "" {
		return strings.EqualFold(name, strings.TrimSpace(configured))
	}
	for _, keyword := range keywords {
		if strings.Contains(name, keyword) {
			return true
		}
	}
	return false
}

func setIfUnset(slot *int, value int) {
	if *slot < 0 {
		*slot = value
	}
}

func field(record []string, idx int) string {
	if idx < 0 || idx >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[idx])
}
