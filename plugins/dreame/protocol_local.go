package dreame

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	packetMagic      = 0x2131
	packetHeaderSize = 32
)

// Packet is one miIO datagram. A packet without payload is a hello.
type Packet struct {
	Unknown  uint32
	DeviceID uint32
	Stamp    uint32
	Checksum [16]byte
	Payload  []byte
}

func (p Packet) IsHello() bool {
	return len(p.Payload) == 0
}

// helloPacket is the handshake request; the reply carries the device id and
// its current stamp.
func helloPacket() []byte {
	buf := bytes.Repeat([]byte{0xff}, packetHeaderSize)
	binary.BigEndian.PutUint16(buf[0:2], packetMagic)
	binary.BigEndian.PutUint16(buf[2:4], packetHeaderSize)
	return buf
}

// encodePacket encrypts plaintext with the token-derived keys and frames it.
func encodePacket(deviceID, stamp uint32, token, plaintext []byte) ([]byte, error) {
	key, iv := tokenKeys(token)
	encrypted, err := aesCbcEncrypt(plaintext, key, iv)
	if err != nil {
		return nil, err
	}
	length := packetHeaderSize + len(encrypted)
	if length > 0xffff {
		return nil, fmt.Errorf("payload too large: %d bytes", len(plaintext))
	}
	buf := make([]byte, packetHeaderSize, length)
	binary.BigEndian.PutUint16(buf[0:2], packetMagic)
	binary.BigEndian.PutUint16(buf[2:4], uint16(length))
	binary.BigEndian.PutUint32(buf[8:12], deviceID)
	binary.BigEndian.PutUint32(buf[12:16], stamp)
	copy(buf[16:32], token)
	buf = append(buf, encrypted...)
	copy(buf[16:32], md5Bytes(buf))
	return buf, nil
}

// decodePacket parses a datagram and decrypts its payload, if any.
func decodePacket(data, token []byte) (Packet, error) {
	if len(data) < packetHeaderSize {
		return Packet{}, errors.New("packet too short")
	}
	if binary.BigEndian.Uint16(data[0:2]) != packetMagic {
		return Packet{}, errors.New("bad packet magic")
	}
	length := int(binary.BigEndian.Uint16(data[2:4]))
	if length < packetHeaderSize || length > len(data) {
		return Packet{}, fmt.Errorf("packet length %d out of range", length)
	}
	pkt := Packet{
		Unknown:  binary.BigEndian.Uint32(data[4:8]),
		DeviceID: binary.BigEndian.Uint32(data[8:12]),
		Stamp:    binary.BigEndian.Uint32(data[12:16]),
	}
	copy(pkt.Checksum[:], data[16:32])
	if length == packetHeaderSize {
		return pkt, nil
	}

	encrypted := data[packetHeaderSize:length]
	sum := md5Bytes(data[:16], token, encrypted)
	if !bytes.Equal(sum, pkt.Checksum[:]) {
		return Packet{}, errors.New("checksum mismatch")
	}
	key, iv := tokenKeys(token)
	payload, err := aesCbcDecrypt(encrypted, key, iv)
	if err != nil {
		return Packet{}, fmt.Errorf("decrypt payload: %w", err)
	}
	pkt.Payload = payload
	return pkt, nil
}
