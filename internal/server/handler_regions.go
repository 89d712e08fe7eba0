package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/dustin/go-humanize"

	"github.com/me/rtk/internal/mpu"
	"github.com/me/rtk/pkg/model"
)

type regionCheckResponse struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
	// Register values as programmed, only for valid regions.
	RBAR  string `json:"rbar,omitempty"`
	RASR  string `json:"rasr,omitempty"`
	Size  uint64 `json:"size,omitempty"`
	Human string `json:"size_human,omitempty"`
	Limit string `json:"limit,omitempty"`
}

func (s *Server) handleRegionCheck(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	var req model.RegionCheckRequest
	if !decodeJSON(w, r, reqID, &req) {
		return
	}

	// program a scratch register file and read the encoding back
	regs := mpu.NewRegisterFile()
	mgr := mpu.NewManager(regs, s.logger)
	if err := mgr.Enable(req.Number, req.Base, req.SizeLog2, req.Execute, req.UserWrite); err != nil {
		var kerr *model.KernelError
		if !errors.As(err, &kerr) {
			respondInternal(w, reqID, err)
			return
		}
		respondOK(w, reqID, regionCheckResponse{Error: kerr.Error()})
		return
	}
	region, _ := mgr.Region(req.Number)
	regs.Write(mpu.RegRNR, req.Number)
	respondOK(w, reqID, regionCheckResponse{
		Valid: true,
		RBAR:  fmt.Sprintf("0x%08x", regs.Read(mpu.RegRBAR)),
		RASR:  fmt.Sprintf("0x%08x", regs.Read(mpu.RegRASR)),
		Size:  region.Size(),
		Human: humanize.IBytes(region.Size()),
		Limit: fmt.Sprintf("%#x", uint64(region.Base)+region.Size()-1),
	})
}
