package common

import (
	"crypto/rand"
	"strings"

	ethcommon "github.com/ethereum/go-ethereum/common"
)

// The returned string has no 0x prefix.
func ByteSliceToPureHexStr(b []byte) string {
	return Trim0xPrefix(ethcommon.Bytes2Hex(b))
}

func HexStrToByteSlice(hexStr string) []byte {
	return ethcommon.Hex2Bytes(Trim0xPrefix(hexStr))
}

// Trim 0x or 0X prefix off the string.
func Trim0xPrefix(str string) string {
	s := strings.TrimPrefix(str, "0x")
	return strings.TrimPrefix(s, "0X")
}

func Prepend0xPrefix(str string) string {
	if strings.HasPrefix(str, "0x") || strings.HasPrefix(str, "0X") {
		return str
	}
	return "0x" + str
}

// RandBytes32 generates [32]byte with random values
func RandBytes32() [32]byte {
	var b [32]byte
	if n, err := rand.Read(b[:]); err != nil || n != 32 {
		return [32]byte{}
	}
	return b
}

func RandBytes(n int) []byte {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil
	}
	return b
}

// RandHexStr generates a random hex string of n bytes, no 0x prefix.
// Handy for fabricating tx signatures and payout refs in tests.
func RandHexStr(n int) string {
	return ByteSliceToPureHexStr(RandBytes(n))
}

// Shorten shortens a hex string so that both sides keep n characters and
// the middle is replaced with "...". Used when logging signatures.
func Shorten(hexStr string, n int) string {
	str := Trim0xPrefix(hexStr)
	if len(str) <= n*2 {
		return str
	}
	return str[:n] + "..." + str[len(str)-n:]
}
