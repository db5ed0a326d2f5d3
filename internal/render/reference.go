package render

import "github.com/pitabwire/casewizard/model"

// Countries is the static ISO 3166-1 alpha-2 list offered by COUNTRY fields.
var Countries = []model.OptionDescriptor{
	{Value: "AD", Label: "Andorra"},
	{Value: "AE", Label: "United Arab Emirates"},
	{Value: "AL", Label: "Albania"},
	{Value: "AR", Label: "Argentina"},
	{Value: "AT", Label: "Austria"},
	{Value: "AU", Label: "Australia"},
	{Value: "BA", Label: "Bosnia and Herzegovina"},
	{Value: "BE", Label: "Belgium"},
	{Value: "BG", Label: "Bulgaria"},
	{Value: "BR", Label: "Brazil"},
	{Value: "CA", Label: "Canada"},
	{Value: "CH", Label: "Switzerland"},
	{Value: "CL", Label: "Chile"},
	{Value: "CN", Label: "China"},
	{Value: "CY", Label: "Cyprus"},
	{Value: "CZ", Label: "Czechia"},
	{Value: "DE", Label: "Germany"},
	{Value: "DK", Label: "Denmark"},
	{Value: "DZ", Label: "Algeria"},
	{Value: "EE", Label: "Estonia"},
	{Value: "EG", Label: "Egypt"},
	{Value: "ES", Label: "Spain"},
	{Value: "FI", Label: "Finland"},
	{Value: "FR", Label: "France"},
	{Value: "GB", Label: "United Kingdom"},
	{Value: "GR", Label: "Greece"},
	{Value: "HK", Label: "Hong Kong"},
	{Value: "HR", Label: "Croatia"},
	{Value: "HU", Label: "Hungary"},
	{Value: "ID", Label: "Indonesia"},
	{Value: "IE", Label: "Ireland"},
	{Value: "IL", Label: "Israel"},
	{Value: "IN", Label: "India"},
	{Value: "IS", Label: "Iceland"},
	{Value: "IT", Label: "Italy"},
	{Value: "JP", Label: "Japan"},
	{Value: "KR", Label: "South Korea"},
	{Value: "LI", Label: "Liechtenstein"},
	{Value: "LT", Label: "Lithuania"},
	{Value: "LU", Label: "Luxembourg"},
	{Value: "LV", Label: "Latvia"},
	{Value: "MA", Label: "Morocco"},
	{Value: "MC", Label: "Monaco"},
	{Value: "MD", Label: "Moldova"},
	{Value: "ME", Label: "Montenegro"},
	{Value: "MK", Label: "North Macedonia"},
	{Value: "MT", Label: "Malta"},
	{Value: "MX", Label: "Mexico"},
	{Value: "MY", Label: "Malaysia"},
	{Value: "NL", Label: "Netherlands"},
	{Value: "NO", Label: "Norway"},
	{Value: "NZ", Label: "New Zealand"},
	{Value: "PH", Label: "Philippines"},
	{Value: "PL", Label: "Poland"},
	{Value: "PT", Label: "Portugal"},
	{Value: "RO", Label: "Romania"},
	{Value: "RS", Label: "Serbia"},
	{Value: "SA", Label: "Saudi Arabia"},
	{Value: "SE", Label: "Sweden"},
	{Value: "SG", Label: "Singapore"},
	{Value: "SI", Label: "Slovenia"},
	{Value: "SK", Label: "Slovakia"},
	{Value: "SM", Label: "San Marino"},
	{Value: "TH", Label: "Thailand"},
	{Value: "TN", Label: "Tunisia"},
	{Value: "TR", Label: "Türkiye"},
	{Value: "TW", Label: "Taiwan"},
	{Value: "UA", Label: "Ukraine"},
	{Value: "US", Label: "United States"},
	{Value: "VA", Label: "Holy See"},
	{Value: "VN", Label: "Viet Nam"},
	{Value: "ZA", Label: "South Africa"},
}

// Currencies is the static ISO 4217 list offered by CURRENCY fields.
var Currencies = []model.OptionDescriptor{
	{Value: "AED", Label: "UAE Dirham"},
	{Value: "AUD", Label: "Australian Dollar"},
	{Value: "BGN", Label: "Bulgarian Lev"},
	{Value: "BRL", Label: "Brazilian Real"},
	{Value: "CAD", Label: "Canadian Dollar"},
	{Value: "CHF", Label: "Swiss Franc"},
	{Value: "CNY", Label: "Yuan Renminbi"},
	{Value: "CZK", Label: "Czech Koruna"},
	{Value: "DKK", Label: "Danish Krone"},
	{Value: "EUR", Label: "Euro"},
	{Value: "GBP", Label: "Pound Sterling"},
	{Value: "HKD", Label: "Hong Kong Dollar"},
	{Value: "HUF", Label: "Forint"},
	{Value: "INR", Label: "Indian Rupee"},
	{Value: "ISK", Label: "Iceland Krona"},
	{Value: "JPY", Label: "Yen"},
	{Value: "KRW", Label: "Won"},
	{Value: "MXN", Label: "Mexican Peso"},
	{Value: "NOK", Label: "Norwegian Krone"},
	{Value: "NZD", Label: "New Zealand Dollar"},
	{Value: "PLN", Label: "Zloty"},
	{Value: "RON", Label: "Romanian Leu"},
	{Value: "RSD", Label: "Serbian Dinar"},
	{Value: "SEK", Label: "Swedish Krona"},
	{Value: "SGD", Label: "Singapore Dollar"},
	{Value: "TRY", Label: "Turkish Lira"},
	{Value: "UAH", Label: "Hryvnia"},
	{Value: "USD", Label: "US Dollar"},
	{Value: "ZAR", Label: "Rand"},
}
