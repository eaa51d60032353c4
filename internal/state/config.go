package state

import "github.com/AndriyKy/spot-gazer/internal/config"

// FromConfig maps configured lots and streams to their persisted form. Lots
// referenced only by a stream are created with an empty name.
func FromConfig(cfg *config.Config) ([]LotState, []StreamState) {
	lots := make([]LotState, 0, len(cfg.Lots))
	declared := make(map[int]bool, len(cfg.Lots))
	for _, lot := range cfg.Lots {
		lots = append(lots, LotState{ID: lot.ID, Name: lot.Name, TotalSpots: lot.TotalSpots})
		declared[lot.ID] = true
	}

	streams := make([]StreamState, 0, len(cfg.Streams))
	for _, stream := range cfg.Streams {
		if !declared[stream.LotID] {
			lots = append(lots, LotState{ID: stream.LotID})
			declared[stream.LotID] = true
		}
		streams = append(streams, StreamState{
			LotID:          stream.LotID,
			Source:         stream.Source,
			ProcessingRate: stream.ProcessingRate,
			Zone:           stream.ParkingZone,
			Active:         true,
		})
	}
	return lots, streams
}
