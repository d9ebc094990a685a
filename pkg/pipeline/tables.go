package pipeline

import (
	"github.com/3leaps/demuxmgr/pkg/run"
	"github.com/3leaps/demuxmgr/pkg/state"
	"github.com/3leaps/demuxmgr/pkg/statemachine"
)

func row(name string, h statemachine.Handler, ok, fail state.State) statemachine.Transition {
	return statemachine.Transition{Name: name, Handler: h, OnSuccess: ok, OnFailure: fail}
}

// common rows shared by every kind of run.
func (p *Processor) common() statemachine.Table {
	return statemachine.Table{
		state.New:             row("CheckRegistrationVerbose", p.CheckRegistrationVerbose, state.WaitForData, state.CheckRegistered),
		state.CheckRegistered: row("CheckRegistrationSilent", p.CheckRegistrationSilent, state.WaitForData, state.CheckRegistered),
		state.Archiving:       row("Archive", p.Archive, state.Complete, state.ErrorDetected),
		state.ErrorDetected:   row("NotifyError", p.NotifyError, state.ErrorNotified, state.ErrorDetected),
		state.Reprocess:       row("Reprocess", p.Reprocess, state.MakingSampleSheet, state.ErrorDetected),
	}
}

// StandardTable sequences single-end and paired-end runs.
func (p *Processor) StandardTable() statemachine.Table {
	return p.common().Merge(statemachine.Table{
		state.WaitForData:         row("CheckTransferComplete", p.CheckTransferComplete, state.MakingSampleSheet, state.WaitForData),
		state.MakingSampleSheet:   row("MakeSampleSheet", p.MakeSampleSheet, state.CheckingIndexLength, state.ErrorDetected),
		state.CheckingIndexLength: row("CheckSingleIndexLength", p.CheckSingleIndexLength, state.ConvertingSimple, state.ConvertingComplex),
		state.ConvertingSimple:    row("ConvertSimple", p.ConvertSimple, state.Distributing, state.ErrorDetected),
		state.ConvertingComplex:   row("ConvertComplex", p.ConvertComplex, state.MergingConversions, state.ErrorDetected),
		state.MergingConversions:  row("MergeConversions", p.MergeConversions, state.Distributing, state.ErrorDetected),
		state.Distributing:        row("Distribute", p.Distribute, state.CleaningUp, state.ErrorDetected),
		state.CleaningUp:          row("Cleanup", p.Cleanup, state.RunningQC, state.ErrorDetected),
		state.RunningQC:           row("Qc", p.Qc, state.Archiving, state.ErrorDetected),
	})
}

// PatchPCRTable sequences patch PCR runs, whose second index read carries
// a random n-mer that post-processing moves into the read names.
func (p *Processor) PatchPCRTable() statemachine.Table {
	return p.common().Merge(statemachine.Table{
		state.WaitForData:           row("CheckTransferComplete", p.CheckTransferComplete, state.ClassifyingInstrument, state.WaitForData),
		state.ClassifyingInstrument: row("CheckIfMiSeq", p.CheckIfMiSeq, state.ClassifyingProtocol, state.ErrorDetected),
		state.ClassifyingProtocol:   row("CheckIfPatchPcr", p.CheckIfPatchPcr, state.MakingSampleSheet, state.ErrorDetected),
		state.MakingSampleSheet:     row("PatchPcrSampleSheet", p.PatchPcrSampleSheet, state.ConvertingSimple, state.ErrorDetected),
		state.ConvertingSimple:      row("PatchPcrDemultiplex", p.PatchPcrDemultiplex, state.Postprocessing, state.ErrorDetected),
		state.Postprocessing:        row("PatchPcrPostprocess", p.PatchPcrPostprocess, state.Distributing, state.ErrorDetected),
		state.Distributing:          row("PatchPcrDistribute", p.PatchPcrDistribute, state.RunningQC, state.ErrorDetected),
		state.RunningQC:             row("Qc", p.Qc, state.Archiving, state.ErrorDetected),
	})
}

// CustomPCRTable sequences custom PCR runs: the standard workflow behind
// classification guards, always converting in one pass with exact barcode
// matching.
func (p *Processor) CustomPCRTable() statemachine.Table {
	return p.StandardTable().Merge(statemachine.Table{
		state.WaitForData:           row("CheckTransferComplete", p.CheckTransferComplete, state.ClassifyingInstrument, state.WaitForData),
		state.ClassifyingInstrument: row("CheckIfMiSeq", p.CheckIfMiSeq, state.ClassifyingProtocol, state.ErrorDetected),
		state.ClassifyingProtocol:   row("CheckIfCustomPcr", p.CheckIfCustomPcr, state.MakingSampleSheet, state.ErrorDetected),
		state.MakingSampleSheet:     row("MakeSampleSheet", p.MakeSampleSheet, state.ConvertingSimple, state.ErrorDetected),
		state.ConvertingSimple:      row("ConvertZeroMismatch", p.ConvertZeroMismatch, state.Distributing, state.ErrorDetected),
	})
}

// Table returns the transition table for kind, or nil for runs that could
// not be classified.
func (p *Processor) Table(kind run.Kind) statemachine.Table {
	switch kind {
	case run.KindSingleEnd, run.KindPairedEnd:
		return p.StandardTable()
	case run.KindPatchPCR:
		return p.PatchPCRTable()
	case run.KindCustomPCR:
		return p.CustomPCRTable()
	default:
		return nil
	}
}
