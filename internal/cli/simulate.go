package cli

import (
	"errors"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var (
	simulatePrice string
	simulateTo    string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "按给定价格发送一封测试告警邮件",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulatePrice == "" {
			return errors.New("--price 必须提供")
		}
		price, err := decimal.NewFromString(simulatePrice)
		if err != nil {
			return errors.New("--price 不是合法数字")
		}
		return getApp().SimulateAlert(cmd.Context(), price, simulateTo)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulatePrice, "price", "", "模拟的新低价格")
	simulateCmd.Flags().StringVar(&simulateTo, "to", "", "收件人 (默认读取已保存的设置)")
}
