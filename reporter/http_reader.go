// Reader is a testing facility to read the output of a http reporter.

package reporter

import (
	"io"
	"net/http"
	"net/url"
)

type HttpReader struct {
	serverIP   string // listen ip
	serverPort string // listen port
}

func NewHttpReader(serverIP string, serverPort string) *HttpReader {
	return &HttpReader{
		serverIP:   serverIP,
		serverPort: serverPort,
	}
}

func (hr *HttpReader) get(route string, params url.Values) (string, error) {
	u := "http://" + hr.serverIP + ":" + hr.serverPort + route
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	resp, err := http.Get(u)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func (hr *HttpReader) GetHello() (string, error) {
	return hr.get(ROUTE_HELLO, nil)
}

func (hr *HttpReader) GetAllocationStatus(receiveAddress string) (string, error) {
	return hr.get(ROUTE_ALLOCATION, url.Values{"receive_address": {receiveAddress}})
}

func (hr *HttpReader) GetPoolStatus(poolID string) (string, error) {
	return hr.get(ROUTE_RESERVE_POOL, url.Values{"pool_id": {poolID}})
}

func (hr *HttpReader) GetFeeQuote(amountUSD, tier, referralCode string) (string, error) {
	params := url.Values{"amount_usd": {amountUSD}, "tier": {tier}}
	if referralCode != "" {
		params.Set("referral_code", referralCode)
	}
	return hr.get(ROUTE_FEE_QUOTE, params)
}
