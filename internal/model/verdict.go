package model

// Row type markers for the backtest payload: a symbol carrying both an
// active buy and sell setup emits two rows.
const (
	RowBuy  = "BUY"
	RowSell = "SELL"
)

// Verdict is the per-symbol result of one scan pass. JSON field names
// follow the dashboard wire format.
type Verdict struct {
	Sym    string  `json:"sym"`  // base asset, e.g. "BTC"
	Full   string  `json:"full"` // full pair, e.g. "BTC/USDT"
	Price  float64 `json:"price"`
	HABull bool    `json:"ha_bull"`
	Buy9   int     `json:"buy9"`
	Sell9  int     `json:"sell9"`

	BuyWR    float64 `json:"bwr"`
	BuyTotal int     `json:"btot"`
	BuyWins  int     `json:"bwins"`
	BuyWROK  bool    `json:"bwr_ok"`

	SellWR    float64 `json:"swr"`
	SellTotal int     `json:"stot"`
	SellWins  int     `json:"swins"`
	SellWROK  bool    `json:"swr_ok"`

	Support     float64 `json:"sup"`
	SupportTC   int     `json:"stc"`
	SupportDist float64 `json:"sdist"`
	SupportOK   bool    `json:"supp_ok"`

	Resistance     float64 `json:"res"`
	ResistanceTC   int     `json:"rtc"`
	ResistanceDist float64 `json:"rdist"`
	ResistanceOK   bool    `json:"res_ok"`

	BuyPassed  bool    `json:"buy_passed"`
	SellPassed bool    `json:"sell_passed"`
	Days       float64 `json:"days"` // history depth in days at 1h bars

	// Set by the trade step after admission: LONG_OK, SHORT_OK or ERR:<reason>.
	TradeResult string `json:"trade_result,omitempty"`

	// RowBuy or RowSell when the verdict appears as a backtest row.
	RowType string `json:"_row_type,omitempty"`
}

// BuyBT returns the buy-side backtest summary embedded in the verdict.
func (v *Verdict) BuyBT() BackTestResult {
	return BackTestResult{Total: v.BuyTotal, Wins: v.BuyWins, WinRate: v.BuyWR}
}

// SellBT returns the sell-side backtest summary embedded in the verdict.
func (v *Verdict) SellBT() BackTestResult {
	return BackTestResult{Total: v.SellTotal, Wins: v.SellWins, WinRate: v.SellWR}
}
