// This package holds the platform-independent geometry of an NTFS volume,
// derived once from its boot sector. Opening the underlying device handle
// and checking process elevation are platform-specific (see
// volume_windows.go).

package ntfs

// Volume describes the geometry of one NTFS volume, computed from its
// boot sector.
type Volume struct {
	Path           string
	BootSector     BootSector
	ClusterSize    uint64
	VolumeSize     uint64
	FileRecordSize uint32
	MFTPosition    uint64
}

// newVolumeFromBootSector builds a Volume's geometry fields from a decoded
// boot sector, shared by both the Windows device-backed constructor and
// tests that synthesize a boot sector in memory.
func newVolumeFromBootSector(path string, bs BootSector) Volume {
	clusterSize := uint64(bs.SectorsPerCluster) * uint64(bs.SectorSize)

	return Volume{
		Path:           path,
		BootSector:     bs,
		ClusterSize:    clusterSize,
		VolumeSize:     bs.TotalSectors * uint64(bs.SectorSize),
		FileRecordSize: uint32(bs.FileRecordSize()),
		MFTPosition:    bs.MFTLCN * clusterSize,
	}
}
