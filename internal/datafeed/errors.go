package datafeed

import "chartfeed.com/pkg/xerr"

// ResolutionError universe 里没有这个 full_name
type ResolutionError struct {
	Name string
}

func (e *ResolutionError) Error() string { return "cannot resolve symbol" }

func (e *ResolutionError) ErrCode() int { return xerr.RecordNotFound }
