package dreame

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testToken    = "00112233445566778899aabbccddeeff"
	fakeDeviceID = 0x0badcafe
	fakeStamp    = 4242
)

func TestPacketRoundTrip(t *testing.T) {
	token, err := parseToken(testToken)
	require.NoError(t, err)

	body := []byte(`{"id":1,"method":"miIO.info","params":[]}`)
	frame, err := encodePacket(fakeDeviceID, fakeStamp, token, body)
	require.NoError(t, err)
	assert.Equal(t, uint16(packetMagic), binary.BigEndian.Uint16(frame[0:2]))
	assert.Equal(t, uint16(len(frame)), binary.BigEndian.Uint16(frame[2:4]))
	assert.Zero(t, (len(frame)-packetHeaderSize)%16)

	pkt, err := decodePacket(frame, token)
	require.NoError(t, err)
	assert.False(t, pkt.IsHello())
	assert.Equal(t, uint32(fakeDeviceID), pkt.DeviceID)
	assert.Equal(t, uint32(fakeStamp), pkt.Stamp)
	assert.Equal(t, body, pkt.Payload)
}

func TestDecodePacketRejectsBadInput(t *testing.T) {
	token, err := parseToken(testToken)
	require.NoError(t, err)
	frame, err := encodePacket(1, 1, token, []byte(`{}`))
	require.NoError(t, err)

	tampered := append([]byte(nil), frame...)
	tampered[len(tampered)-1] ^= 0xff
	_, err = decodePacket(tampered, token)
	assert.ErrorContains(t, err, "checksum")

	badMagic := append([]byte(nil), frame...)
	badMagic[0] = 0
	_, err = decodePacket(badMagic, token)
	assert.ErrorContains(t, err, "magic")

	_, err = decodePacket(frame[:10], token)
	assert.Error(t, err)

	other, err := parseToken("ffeeddccbbaa99887766554433221100")
	require.NoError(t, err)
	_, err = decodePacket(frame, other)
	assert.Error(t, err)
}

func TestHelloPacket(t *testing.T) {
	pkt, err := decodePacket(helloPacket(), nil)
	require.NoError(t, err)
	assert.True(t, pkt.IsHello())
	assert.Equal(t, uint32(0xffffffff), pkt.DeviceID)
}

func TestParseToken(t *testing.T) {
	_, err := parseToken("abc")
	assert.Error(t, err)
	_, err = parseToken("zz112233445566778899aabbccddeeff")
	assert.Error(t, err)
	_, err = parseToken("0011")
	assert.Error(t, err)
}

func TestCBCRoundTrip(t *testing.T) {
	token, err := parseToken(testToken)
	require.NoError(t, err)
	key, iv := tokenKeys(token)

	for _, size := range []int{0, 1, 15, 16, 33} {
		plain := make([]byte, size)
		for i := range plain {
			plain[i] = byte(i)
		}
		enc, err := aesCbcEncrypt(plain, key, iv)
		require.NoError(t, err)
		dec, err := aesCbcDecrypt(enc, key, iv)
		require.NoError(t, err)
		assert.Equal(t, plain, dec, "size %d", size)
	}

	_, err = aesCbcDecrypt([]byte("short"), key, iv)
	assert.Error(t, err)
}

func TestDecodeResponse(t *testing.T) {
	resp, err := decodeResponse([]byte(`{"id":7,"result":["ok"]}` + "\x00\x00"))
	require.NoError(t, err)
	assert.Equal(t, 7, resp.RequestID)
	assert.NoError(t, resp.err())

	resp, err = decodeResponse([]byte(`{"id":8,"error":{"code":-5001,"message":"invalid arg"}}`))
	require.NoError(t, err)
	var devErr *DeviceError
	require.ErrorAs(t, resp.err(), &devErr)
	assert.Equal(t, -5001, devErr.Code)

	_, err = decodeResponse([]byte("\x00"))
	assert.Error(t, err)
}

// fakeDevice answers hellos and encrypted requests on a loopback UDP socket.
func fakeDevice(t *testing.T, handle func(req requestMessage) map[string]any) int {
	t.Helper()
	token, err := parseToken(testToken)
	require.NoError(t, err)

	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	go func() {
		buf := make([]byte, 65535)
		for {
			n, addr, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			pkt, err := decodePacket(buf[:n], token)
			if err != nil {
				continue
			}
			if pkt.IsHello() {
				reply := helloPacket()
				binary.BigEndian.PutUint32(reply[4:8], 0)
				binary.BigEndian.PutUint32(reply[8:12], fakeDeviceID)
				binary.BigEndian.PutUint32(reply[12:16], fakeStamp)
				_, _ = conn.WriteToUDP(reply, addr)
				continue
			}
			var req requestMessage
			if err := json.Unmarshal(pkt.Payload, &req); err != nil {
				continue
			}
			reply := handle(req)
			reply["id"] = req.RequestID
			body, err := json.Marshal(reply)
			if err != nil {
				continue
			}
			frame, err := encodePacket(fakeDeviceID, pkt.Stamp, token, body)
			if err != nil {
				continue
			}
			_, _ = conn.WriteToUDP(frame, addr)
		}
	}()
	return conn.LocalAddr().(*net.UDPAddr).Port
}

func TestLocalChannelCall(t *testing.T) {
	port := fakeDevice(t, func(req requestMessage) map[string]any {
		switch req.Method {
		case MethodInfo:
			return map[string]any{"result": map[string]any{"model": "dreame.vacuum.mc1808"}}
		default:
			return map[string]any{"error": map[string]any{"code": -5001, "message": "unknown method"}}
		}
	})

	ch, err := NewLocalChannel("127.0.0.1", testToken)
	require.NoError(t, err)
	ch.port = port
	t.Cleanup(func() { _ = ch.Close() })

	ctx := context.Background()
	result, err := ch.Call(ctx, MethodInfo, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"model": "dreame.vacuum.mc1808"}, result)

	ch.mu.Lock()
	assert.Equal(t, uint32(fakeDeviceID), ch.deviceID)
	ch.mu.Unlock()

	_, err = ch.Call(ctx, "app_rc_start", nil)
	var devErr *DeviceError
	require.ErrorAs(t, err, &devErr)
	assert.Equal(t, -5001, devErr.Code)

	require.NoError(t, ch.Close())
	_, err = ch.Call(ctx, MethodInfo, nil)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestLocalChannelDrivesVacuum(t *testing.T) {
	raw := rawDeviceState()
	port := fakeDevice(t, func(req requestMessage) map[string]any {
		if req.Method != MethodGetProperties {
			return map[string]any{"result": map[string]any{"code": 0}}
		}
		var out []any
		for _, item := range req.Params.([]any) {
			entry := item.(map[string]any)
			did := entry["did"].(string)
			out = append(out, map[string]any{"did": did, "siid": entry["siid"], "piid": entry["piid"], "code": 0, "value": raw[did]})
		}
		return map[string]any{"result": out}
	})

	ch, err := NewLocalChannel("127.0.0.1", testToken)
	require.NoError(t, err)
	ch.port = port

	vac := NewVacuum(Device{ID: "hall"}, ch, VacuumOptions{})
	t.Cleanup(func() { _ = vac.Close() })

	values, err := vac.LoadProperties(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateCleaning, values[PropState])
	assert.Equal(t, 87, vac.Status().BatteryPercent)
}

func TestLocalChannelConcurrentCallsShareHandshake(t *testing.T) {
	port := fakeDevice(t, func(req requestMessage) map[string]any {
		return map[string]any{"result": map[string]any{"model": "dreame.vacuum.mc1808"}}
	})

	ch, err := NewLocalChannel("127.0.0.1", testToken)
	require.NoError(t, err)
	ch.port = port
	t.Cleanup(func() { _ = ch.Close() })

	ctx := context.Background()
	_, err = ch.Call(ctx, MethodInfo, nil)
	require.NoError(t, err)

	for round := 0; round < 5; round++ {
		ch.mu.Lock()
		ch.stampAt = time.Now().Add(-2 * handshakeEvery)
		ch.mu.Unlock()

		var wg sync.WaitGroup
		errs := make(chan error, 4)
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := ch.Call(ctx, MethodInfo, nil)
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err, "round %d", round)
		}

		ch.mu.Lock()
		fresh := time.Since(ch.stampAt) < handshakeEvery
		ch.mu.Unlock()
		assert.True(t, fresh)
	}
}
