package mcpserver

import (
	"fmt"

	"finmux/internal/classify"
	"finmux/internal/provider"
)

var validFinancialType = map[string]bool{
	"income_stmt": true, "quarterly_income_stmt": true,
	"balance_sheet": true, "quarterly_balance_sheet": true,
	"cashflow": true, "quarterly_cashflow": true,
}

var validHolderType = map[string]bool{
	"major_holders": true, "institutional_holders": true, "mutualfund_holders": true,
	"insider_transactions": true, "insider_purchases": true, "insider_roster_holders": true,
}

func missingArg(name string) error {
	return classify.New(classify.DataError, fmt.Sprintf("missing required argument %q", name))
}

func invalidEnum(name, value string) error {
	return classify.New(classify.DataError, fmt.Sprintf("invalid value %q for argument %q", value, name))
}

func tickerOnly[T any](getTicker func(T) string) func(T) (provider.Args, error) {
	return func(in T) (provider.Args, error) {
		ticker := getTicker(in)
		if ticker == "" {
			return provider.Args{}, missingArg("ticker")
		}
		return provider.Args{Ticker: ticker}, nil
	}
}

func historicalPricesToArgs(in historicalPricesArgs) (provider.Args, error) {
	if in.Ticker == "" {
		return provider.Args{}, missingArg("ticker")
	}
	period, interval := in.Period, in.Interval
	if period == "" {
		period = "1mo"
	}
	if interval == "" {
		interval = "1d"
	}
	return provider.Args{Ticker: in.Ticker, Period: period, Interval: interval}, nil
}

func stockInfoToArgs(in stockInfoArgs) (provider.Args, error) {
	return tickerOnly[stockInfoArgs](func(a stockInfoArgs) string { return a.Ticker })(in)
}

func newsToArgs(in newsArgs) (provider.Args, error) {
	return tickerOnly[newsArgs](func(a newsArgs) string { return a.Ticker })(in)
}

func marketNewsToArgs(in marketNewsArgs) (provider.Args, error) {
	return provider.Args{}, nil
}

func stockActionsToArgs(in stockActionsArgs) (provider.Args, error) {
	return tickerOnly[stockActionsArgs](func(a stockActionsArgs) string { return a.Ticker })(in)
}

func financialStatementToArgs(in financialStatementArgs) (provider.Args, error) {
	if in.Ticker == "" {
		return provider.Args{}, missingArg("ticker")
	}
	if !validFinancialType[in.FinancialType] {
		return provider.Args{}, invalidEnum("financial_type", in.FinancialType)
	}
	return provider.Args{Ticker: in.Ticker, FinancialType: in.FinancialType}, nil
}

func holderInfoToArgs(in holderInfoArgs) (provider.Args, error) {
	if in.Ticker == "" {
		return provider.Args{}, missingArg("ticker")
	}
	if !validHolderType[in.HolderType] {
		return provider.Args{}, invalidEnum("holder_type", in.HolderType)
	}
	return provider.Args{Ticker: in.Ticker, HolderType: in.HolderType}, nil
}

func optionExpirationDatesToArgs(in optionExpirationDatesArgs) (provider.Args, error) {
	return tickerOnly[optionExpirationDatesArgs](func(a optionExpirationDatesArgs) string { return a.Ticker })(in)
}

func optionChainToArgs(in optionChainArgs) (provider.Args, error) {
	if in.Ticker == "" {
		return provider.Args{}, missingArg("ticker")
	}
	if in.ExpirationDate == "" {
		return provider.Args{}, missingArg("expiration_date")
	}
	if in.OptionType != "calls" && in.OptionType != "puts" {
		return provider.Args{}, invalidEnum("option_type", in.OptionType)
	}
	return provider.Args{Ticker: in.Ticker, ExpirationDate: in.ExpirationDate, OptionType: in.OptionType}, nil
}

func recommendationsToArgs(in recommendationsArgs) (provider.Args, error) {
	if in.Ticker == "" {
		return provider.Args{}, missingArg("ticker")
	}
	if in.RecommendationType != "recommendations" && in.RecommendationType != "upgrades_downgrades" {
		return provider.Args{}, invalidEnum("recommendation_type", in.RecommendationType)
	}
	monthsBack := in.MonthsBack
	if monthsBack <= 0 {
		monthsBack = 12
	}
	return provider.Args{Ticker: in.Ticker, RecommendationType: in.RecommendationType, MonthsBack: monthsBack}, nil
}
