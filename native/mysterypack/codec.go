package mysterypack

import (
	"encoding/binary"
	"errors"
	"fmt"

	"packchain/crypto"
)

const (
	campaignTag byte = 0x01
	receiptTag  byte = 0x02

	// CampaignRecordSize is the encoded size of a campaign including its tag.
	CampaignRecordSize = 1 + 8 + 32 + 32 + 8 + 4 + 4 + 32 + 1 + 1 + 1
	// ReceiptRecordSize is the encoded size of a receipt including its tag.
	ReceiptRecordSize = 1 + 32 + 32 + 4 + 1
)

var ErrCorruptRecord = errors.New("mysterypack: corrupt record")

func putBool(dst []byte, v bool) {
	if v {
		dst[0] = 1
	} else {
		dst[0] = 0
	}
}

func readBool(b byte) (bool, error) {
	switch b {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, fmt.Errorf("%w: boolean byte 0x%02x", ErrCorruptRecord, b)
	}
}

// EncodeCampaign returns the persisted form of c. Integers are little-endian.
func EncodeCampaign(c *Campaign) []byte {
	buf := make([]byte, CampaignRecordSize)
	buf[0] = campaignTag
	off := 1
	binary.LittleEndian.PutUint64(buf[off:], c.Seed)
	off += 8
	off += copy(buf[off:], c.Authority[:])
	off += copy(buf[off:], c.RewardAsset[:])
	binary.LittleEndian.PutUint64(buf[off:], c.PackPrice)
	off += 8
	binary.LittleEndian.PutUint32(buf[off:], c.TotalPacks)
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], c.PacksSold)
	off += 4
	off += copy(buf[off:], c.MerkleRoot[:])
	putBool(buf[off:], c.IsActive)
	buf[off+1] = c.Bump
	buf[off+2] = c.VaultBump
	return buf
}

// DecodeCampaign parses a persisted campaign.
func DecodeCampaign(raw []byte) (*Campaign, error) {
	if len(raw) != CampaignRecordSize {
		return nil, fmt.Errorf("%w: campaign length %d", ErrCorruptRecord, len(raw))
	}
	if raw[0] != campaignTag {
		return nil, fmt.Errorf("%w: campaign tag 0x%02x", ErrCorruptRecord, raw[0])
	}
	c := new(Campaign)
	off := 1
	c.Seed = binary.LittleEndian.Uint64(raw[off:])
	off += 8
	off += copy(c.Authority[:], raw[off:off+crypto.AddressLength])
	off += copy(c.RewardAsset[:], raw[off:off+crypto.AddressLength])
	c.PackPrice = binary.LittleEndian.Uint64(raw[off:])
	off += 8
	c.TotalPacks = binary.LittleEndian.Uint32(raw[off:])
	off += 4
	c.PacksSold = binary.LittleEndian.Uint32(raw[off:])
	off += 4
	off += copy(c.MerkleRoot[:], raw[off:off+32])
	active, err := readBool(raw[off])
	if err != nil {
		return nil, err
	}
	c.IsActive = active
	c.Bump = raw[off+1]
	c.VaultBump = raw[off+2]
	if c.PacksSold > c.TotalPacks {
		return nil, fmt.Errorf("%w: %d packs sold of %d", ErrCorruptRecord, c.PacksSold, c.TotalPacks)
	}
	return c, nil
}

// EncodeReceipt returns the persisted form of r.
func EncodeReceipt(r *Receipt) []byte {
	buf := make([]byte, ReceiptRecordSize)
	buf[0] = receiptTag
	off := 1
	off += copy(buf[off:], r.Campaign[:])
	off += copy(buf[off:], r.Buyer[:])
	binary.LittleEndian.PutUint32(buf[off:], r.PackIndex)
	putBool(buf[off+4:], r.IsClaimed)
	return buf
}

// DecodeReceipt parses a persisted receipt.
func DecodeReceipt(raw []byte) (*Receipt, error) {
	if len(raw) != ReceiptRecordSize {
		return nil, fmt.Errorf("%w: receipt length %d", ErrCorruptRecord, len(raw))
	}
	if raw[0] != receiptTag {
		return nil, fmt.Errorf("%w: receipt tag 0x%02x", ErrCorruptRecord, raw[0])
	}
	r := new(Receipt)
	off := 1
	off += copy(r.Campaign[:], raw[off:off+crypto.AddressLength])
	off += copy(r.Buyer[:], raw[off:off+crypto.AddressLength])
	r.PackIndex = binary.LittleEndian.Uint32(raw[off:])
	claimed, err := readBool(raw[off+4])
	if err != nil {
		return nil, err
	}
	r.IsClaimed = claimed
	return r, nil
}
