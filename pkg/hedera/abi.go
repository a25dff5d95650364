package hedera

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// executionOutputs is shared by every execute* entry point.
const executionOutputs = `[` +
	`{"internalType":"address[]","name":"failed","type":"address[]"},` +
	`{"internalType":"address[]","name":"succeeded","type":"address[]"},` +
	`{"internalType":"uint256[]","name":"paidAmount","type":"uint256[]"},` +
	`{"internalType":"bool","name":"executed","type":"bool"}]`

const lifeCycleCashFlowABIJSON = `[
{"inputs":[],"name":"pause","outputs":[],"stateMutability":"nonpayable","type":"function"},
{"inputs":[],"name":"unpause","outputs":[],"stateMutability":"nonpayable","type":"function"},
{"inputs":[],"name":"isPaused","outputs":[{"internalType":"bool","name":"","type":"bool"}],"stateMutability":"view","type":"function"},
{"inputs":[
	{"internalType":"address","name":"asset","type":"address"},
	{"internalType":"uint256","name":"distributionID","type":"uint256"},
	{"internalType":"uint256","name":"pageIndex","type":"uint256"},
	{"internalType":"uint256","name":"pageLength","type":"uint256"}],
 "name":"executeDistribution","outputs":` + executionOutputs + `,"stateMutability":"nonpayable","type":"function"},
{"inputs":[
	{"internalType":"address","name":"asset","type":"address"},
	{"internalType":"uint256","name":"distributionID","type":"uint256"},
	{"internalType":"address[]","name":"holders","type":"address[]"}],
 "name":"executeDistributionByAddresses","outputs":` + executionOutputs + `,"stateMutability":"nonpayable","type":"function"},
{"inputs":[
	{"internalType":"address","name":"asset","type":"address"},
	{"internalType":"uint256","name":"snapshotID","type":"uint256"},
	{"internalType":"uint256","name":"pageIndex","type":"uint256"},
	{"internalType":"uint256","name":"pageLength","type":"uint256"},
	{"internalType":"uint256","name":"amount","type":"uint256"}],
 "name":"executeAmountSnapshot","outputs":` + executionOutputs + `,"stateMutability":"nonpayable","type":"function"},
{"inputs":[
	{"internalType":"address","name":"asset","type":"address"},
	{"internalType":"uint256","name":"snapshotID","type":"uint256"},
	{"internalType":"address[]","name":"holders","type":"address[]"},
	{"internalType":"uint256","name":"amount","type":"uint256"}],
 "name":"executeAmountSnapshotByAddresses","outputs":` + executionOutputs + `,"stateMutability":"nonpayable","type":"function"},
{"inputs":[
	{"internalType":"address","name":"asset","type":"address"},
	{"internalType":"uint256","name":"snapshotID","type":"uint256"},
	{"internalType":"uint256","name":"pageIndex","type":"uint256"},
	{"internalType":"uint256","name":"pageLength","type":"uint256"},
	{"internalType":"uint256","name":"percentage","type":"uint256"}],
 "name":"executePercentageSnapshot","outputs":` + executionOutputs + `,"stateMutability":"nonpayable","type":"function"},
{"inputs":[
	{"internalType":"address","name":"asset","type":"address"},
	{"internalType":"uint256","name":"snapshotID","type":"uint256"},
	{"internalType":"address[]","name":"holders","type":"address[]"},
	{"internalType":"uint256","name":"percentage","type":"uint256"}],
 "name":"executePercentageSnapshotByAddresses","outputs":` + executionOutputs + `,"stateMutability":"nonpayable","type":"function"}
]`

const assetTokenABIJSON = `[
{"inputs":[],"name":"takeSnapshot","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"nonpayable","type":"function"},
{"anonymous":false,"inputs":[
	{"indexed":true,"internalType":"address","name":"operator","type":"address"},
	{"indexed":true,"internalType":"uint256","name":"snapshotID","type":"uint256"}],
 "name":"SnapshotTaken","type":"event"},
{"inputs":[],"name":"decimals","outputs":[{"internalType":"uint8","name":"","type":"uint8"}],"stateMutability":"view","type":"function"},
{"inputs":[{"internalType":"uint256","name":"snapshotID","type":"uint256"}],
 "name":"getTotalTokenHoldersAtSnapshot","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
{"inputs":[
	{"internalType":"uint256","name":"snapshotID","type":"uint256"},
	{"internalType":"uint256","name":"pageIndex","type":"uint256"},
	{"internalType":"uint256","name":"pageLength","type":"uint256"}],
 "name":"getTokenHoldersAtSnapshot","outputs":[{"internalType":"address[]","name":"","type":"address[]"}],"stateMutability":"view","type":"function"},
{"inputs":[
	{"internalType":"uint256","name":"snapshotID","type":"uint256"},
	{"internalType":"address","name":"tokenHolder","type":"address"}],
 "name":"balanceOfAtSnapshot","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
{"inputs":[],"name":"getDividendsCount","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
{"inputs":[{"internalType":"uint256","name":"dividendID","type":"uint256"}],
 "name":"getDividends","outputs":[
	{"internalType":"uint256","name":"recordDate","type":"uint256"},
	{"internalType":"uint256","name":"executionDate","type":"uint256"},
	{"internalType":"uint256","name":"amount","type":"uint256"},
	{"internalType":"uint8","name":"amountDecimals","type":"uint8"},
	{"internalType":"uint256","name":"snapshotId","type":"uint256"}],
 "stateMutability":"view","type":"function"},
{"inputs":[{"internalType":"uint256","name":"dividendID","type":"uint256"}],
 "name":"getTotalDividendHolders","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
{"inputs":[
	{"internalType":"uint256","name":"dividendID","type":"uint256"},
	{"internalType":"uint256","name":"pageIndex","type":"uint256"},
	{"internalType":"uint256","name":"pageLength","type":"uint256"}],
 "name":"getDividendHolders","outputs":[{"internalType":"address[]","name":"","type":"address[]"}],"stateMutability":"view","type":"function"}
]`

var (
	lifeCycleCashFlowABI = mustParseABI(lifeCycleCashFlowABIJSON)
	assetTokenABI        = mustParseABI(assetTokenABIJSON)
)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic("invalid contract abi: " + err.Error())
	}
	return parsed
}
