package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefix for snapshot hashes. The version suffix allows a future
// change of the hashed shape without colliding with old hashes.
const DomainSnapshot = "floodsync/snapshot/v1"

// hashWithDomain computes SHA256(domain + 0x00 + data).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// SnapshotHash hashes everything a view renders: both collections and the
// two local identity pointers. Record order matters; callers hash the
// order they render.
func SnapshotHash(sos []SOSRequest, rescuers []Rescuer, mySOSID, myRescuerID string) (string, error) {
	if sos == nil {
		sos = []SOSRequest{}
	}
	if rescuers == nil {
		rescuers = []Rescuer{}
	}
	canonical, err := MarshalCanonical(map[string]any{
		"sos":         sos,
		"rescuers":    rescuers,
		"mySosId":     mySOSID,
		"myRescuerId": myRescuerID,
	})
	if err != nil {
		return "", fmt.Errorf("SnapshotHash: %w", err)
	}
	return hashWithDomain(DomainSnapshot, canonical), nil
}
